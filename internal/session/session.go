package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
)

// Session is the per-connection conversation state. The core pipeline treats
// the session id only as an opaque correlation token.
type Session struct {
	ID        string
	UserID    string
	Username  string
	StartedAt time.Time

	mu             sync.Mutex
	lastActivity   time.Time
	currentAgent   string
	currentTask    string
	currentProject string
	contextData    map[string]any
	messageCount   int
	history        *memory.ConversationBuffer
}

func newSession(userID, username string) *Session {
	return &Session{
		ID:           NewID(),
		UserID:       userID,
		Username:     username,
		StartedAt:    time.Now(),
		lastActivity: time.Now(),
		currentAgent: "main",
		contextData:  make(map[string]any),
		history:      memory.NewConversationBuffer(),
	}
}

// Touch updates the activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CurrentAgent returns the agent currently handling the session.
func (s *Session) CurrentAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentAgent
}

// SetCurrentAgent records the agent currently handling the session.
func (s *Session) SetCurrentAgent(agent string) {
	s.mu.Lock()
	s.currentAgent = agent
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// CurrentTask returns the in-flight task description, empty when idle.
func (s *Session) CurrentTask() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTask
}

// SetCurrentTask records the in-flight task. An empty task clears it.
func (s *Session) SetCurrentTask(task string) {
	s.mu.Lock()
	s.currentTask = task
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// CurrentProject returns the project the session is working on.
func (s *Session) CurrentProject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentProject
}

// SetCurrentProject records the project the session is working on.
func (s *Session) SetCurrentProject(project string) {
	s.mu.Lock()
	s.currentProject = project
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// SetContext stores an arbitrary context value on the session.
func (s *Session) SetContext(key string, value any) {
	s.mu.Lock()
	s.contextData[key] = value
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// GetContext retrieves a context value previously stored on the session.
func (s *Session) GetContext(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.contextData[key]
	return v, ok
}

// MessageCount reports how many user messages the session has seen.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// AddUserMessage appends a user message to the session history.
func (s *Session) AddUserMessage(ctx context.Context, content string) error {
	s.mu.Lock()
	s.messageCount++
	s.lastActivity = time.Now()
	history := s.history
	s.mu.Unlock()

	if err := history.ChatHistory.AddUserMessage(ctx, content); err != nil {
		return fmt.Errorf("failed to add user message: %w", err)
	}
	return nil
}

// AddAssistantMessage appends an assistant message to the session history.
func (s *Session) AddAssistantMessage(ctx context.Context, content string) error {
	s.Touch()
	if err := s.history.ChatHistory.AddAIMessage(ctx, content); err != nil {
		return fmt.Errorf("failed to add assistant message: %w", err)
	}
	return nil
}

// History returns the chat history accumulated for this session.
func (s *Session) History(ctx context.Context) ([]llms.ChatMessage, error) {
	return s.history.ChatHistory.Messages(ctx)
}

// FormattedHistory renders the history as a prompt-ready transcript.
func (s *Session) FormattedHistory(ctx context.Context) (string, error) {
	messages, err := s.History(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get messages: %w", err)
	}
	if len(messages) == 0 {
		return "No previous conversation.", nil
	}

	var formatted string
	for _, msg := range messages {
		switch m := msg.(type) {
		case llms.HumanChatMessage:
			formatted += fmt.Sprintf("User: %s\n", m.Content)
		case llms.AIChatMessage:
			formatted += fmt.Sprintf("Assistant: %s\n", m.Content)
		case llms.SystemChatMessage:
			formatted += fmt.Sprintf("System: %s\n", m.Content)
		}
	}
	return formatted, nil
}

// NewID generates a fresh session identifier.
func NewID() string {
	return "session_" + uuid.NewString()
}

const (
	DefaultTimeout  = time.Hour
	cleanupInterval = 5 * time.Minute
)

// Manager owns the in-memory session map. Sessions expire after the idle
// timeout and are garbage-collected by a background loop.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a session manager and starts its cleanup loop.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		done:     make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// GetOrCreate returns the live session for key, creating a fresh one when the
// key is unknown or the existing session expired.
func (m *Manager) GetOrCreate(key, userID, username string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok || m.expired(s) {
		s = newSession(userID, username)
		m.sessions[key] = s
	} else {
		s.Touch()
	}
	return s
}

// Get returns the session for key if it exists and has not expired.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok || m.expired(s) {
		return nil, false
	}
	return s, true
}

// Delete removes the session for key.
func (m *Manager) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
}

// Count reports the number of tracked sessions, expired or not.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stats summarizes the session map.
type Stats struct {
	TotalSessions  int `json:"total_sessions"`
	ActiveSessions int `json:"active_sessions"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{TotalSessions: len(m.sessions)}
	for _, s := range m.sessions {
		if !m.expired(s) {
			stats.ActiveSessions++
		}
	}
	return stats
}

func (m *Manager) expired(s *Session) bool {
	return time.Since(s.LastActivity()) > m.timeout
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, key)
		}
	}
}

// Close stops the cleanup loop.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.done) })
}
