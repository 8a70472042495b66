package gateway

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/RussianLioN/openclaw-gateway/internal/command"
	"github.com/RussianLioN/openclaw-gateway/internal/intent"
	"github.com/RussianLioN/openclaw-gateway/internal/llm"
	"github.com/RussianLioN/openclaw-gateway/internal/protocol"
	"github.com/RussianLioN/openclaw-gateway/internal/session"
	"go.uber.org/zap"
)

// Event is a single frame streamed back to the originating chat session.
type Event struct {
	Type      string   `json:"type"` // "complete", "error", "progress", "question"
	SessionID string   `json:"sessionId,omitempty"`
	Agent     string   `json:"agent,omitempty"`
	Content   string   `json:"content,omitempty"`
	Data      any      `json:"data,omitempty"`
	Stage     string   `json:"stage,omitempty"`
	Progress  int      `json:"progress,omitempty"`
	Question  string   `json:"question,omitempty"`
	Options   []string `json:"options,omitempty"`
}

// EmitFunc delivers events to the transport that owns the session. For one
// in-flight command, progress events arrive in order parsing -> executing ->
// complete (or error); no reordering or coalescing.
type EmitFunc func(Event)

// Classifier resolves user text into an intent.
type Classifier interface {
	Classify(ctx context.Context, message string) intent.Result
}

// Generator synthesizes command envelopes from user text.
type Generator interface {
	Generate(ctx context.Context, userInput string, genCtx *command.Context) (*protocol.CommandRequest, error)
}

// Executor dispatches command envelopes to the CLI bridge.
type Executor interface {
	ExecuteWithProgress(ctx context.Context, request *protocol.CommandRequest, onProgress func(stage string, progress int, message string)) *protocol.CommandResponse
}

// Config for the orchestrator.
type Config struct {
	Workspace    string
	ShellTimeout time.Duration
}

// Gateway orchestrates the intent resolution pipeline for one chat message:
// classify, generate, execute, stream results. Transports own connection
// lifecycles and call HandleChat once per message, in arrival order per
// session.
type Gateway struct {
	classifier Classifier
	generator  Generator
	executor   Executor
	llmClient  llm.Client
	sessions   *session.Manager
	workspace  string
	shellTO    time.Duration
	logger     *zap.Logger
}

// New creates the orchestrator. All collaborators are injected explicitly;
// there is no ambient global lookup.
func New(classifier Classifier, generator Generator, exec Executor, client llm.Client, sessions *session.Manager, cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShellTimeout <= 0 {
		cfg.ShellTimeout = 2 * time.Minute
	}
	return &Gateway{
		classifier: classifier,
		generator:  generator,
		executor:   exec,
		llmClient:  client,
		sessions:   sessions,
		workspace:  cfg.Workspace,
		shellTO:    cfg.ShellTimeout,
		logger:     logger,
	}
}

// Sessions exposes the session manager to transports.
func (g *Gateway) Sessions() *session.Manager {
	return g.sessions
}

// Welcome returns the greeting sent on connect.
func (g *Gateway) Welcome(sessionID string) Event {
	return Event{Type: "complete", SessionID: sessionID, Content: welcomeText}
}

// SessionStatus returns the status text for a session.
func (g *Gateway) SessionStatus(s *session.Session) Event {
	return Event{Type: "complete", SessionID: s.ID, Content: statusText(s)}
}

var generateAgentsPattern = regexp.MustCompile(`(?i)сгенерируй\s+.*агент|generate\s+agents`)

// HandleChat runs one user message through the pipeline and streams results
// via emit. It never returns an error to the transport: every failure is
// delivered as an error or question event.
func (g *Gateway) HandleChat(ctx context.Context, s *session.Session, content string, emit EmitFunc) {
	content = strings.TrimSpace(content)
	lower := strings.ToLower(content)

	if lower == "help" || lower == "помощь" {
		emit(Event{Type: "complete", SessionID: s.ID, Content: helpText})
		return
	}
	if lower == "exit" || lower == "выход" {
		emit(Event{Type: "complete", SessionID: s.ID, Content: goodbyeText})
		return
	}

	if err := s.AddUserMessage(ctx, content); err != nil {
		g.logger.Warn("failed to record user message", zap.Error(err))
	}

	emit(Event{Type: "progress", SessionID: s.ID, Stage: "parsing", Progress: 10}.withMessage("Анализирую запрос..."))

	// generate_agents is resolved directly, outside the executor whitelist.
	if generateAgentsPattern.MatchString(content) {
		g.handleGenerateAgents(ctx, s, content, emit)
		return
	}

	result := g.classifier.Classify(ctx, content)
	g.logger.Info("classified message",
		zap.String("session", s.ID),
		zap.String("intent", string(result.Intent)),
		zap.Float64("confidence", result.Confidence))

	switch result.Intent {
	case intent.IntentSmallTalk:
		g.reply(ctx, s, smallTalkReply, emit)
	case intent.IntentChat:
		g.handleConversation(ctx, s, content, emit)
	case intent.IntentDeploy:
		g.handleDeploy(ctx, s, result, emit)
	default:
		g.handleCommand(ctx, s, content, result, emit)
	}
}

// handleCommand drives the generator/executor pair for whitelisted commands.
func (g *Gateway) handleCommand(ctx context.Context, s *session.Session, content string, result intent.Result, emit EmitFunc) {
	request, err := g.generator.Generate(ctx, content, &command.Context{
		UserID:           s.UserID,
		SessionID:        s.ID,
		IntentConfidence: result.Confidence,
	})
	if err != nil {
		var ambiguity *command.AmbiguityError
		if errors.As(err, &ambiguity) {
			emit(Event{
				Type:      "question",
				SessionID: s.ID,
				Question:  ambiguity.Question,
				Options:   ambiguity.Options,
			})
			return
		}
		g.logger.Warn("command generation failed", zap.String("session", s.ID), zap.Error(err))
		emit(Event{Type: "error", SessionID: s.ID, Content: rephraseText})
		return
	}

	g.logger.Info("generated command",
		zap.String("session", s.ID),
		zap.String("command", request.Command),
		zap.String("id", request.ID))

	s.SetCurrentTask(request.Command)
	defer s.SetCurrentTask("")

	emit(Event{Type: "progress", SessionID: s.ID, Stage: "executing", Progress: 30}.withMessage(
		fmt.Sprintf("Выполняю команду: %s...", request.Command)))

	response := g.executor.ExecuteWithProgress(ctx, request, func(stage string, progress int, message string) {
		emit(Event{Type: "progress", SessionID: s.ID, Stage: stage, Progress: progress}.withMessage(message))
	})

	if response.Status == protocol.StatusSuccess {
		message := response.Message
		if message == "" {
			message = "Команда выполнена успешно!"
		}
		if request.Command == "create_project" {
			if name, ok := request.Params["name"].(string); ok {
				s.SetCurrentProject(name)
			}
		}
		g.reply(ctx, s, message, emit)
		return
	}

	errText := "Ошибка выполнения команды"
	if response.Error != nil {
		errText = response.Error.Message
	}
	emit(Event{Type: "error", SessionID: s.ID, Content: errText, Data: response.Error})
}

// handleConversation produces a conversational reply using the session's
// accumulated history. Adapter failure degrades to a canned reply rather than
// failing the message.
func (g *Gateway) handleConversation(ctx context.Context, s *session.Session, content string, emit EmitFunc) {
	history, err := s.FormattedHistory(ctx)
	if err != nil {
		g.logger.Warn("failed to load history", zap.Error(err))
		history = "No previous conversation."
	}

	messages := []llm.Message{
		{Role: "system", Content: "You are OpenClaw Gateway, an assistant for the CodeFoundry project platform. Answer briefly and helpfully, in the user's language.\n\nConversation so far:\n" + history},
		{Role: "user", Content: content},
	}

	reply, err := g.llmClient.Chat(ctx, messages, &llm.Options{Temperature: 0.7})
	if err != nil {
		g.logger.Warn("conversational reply failed", zap.Error(err))
		g.reply(ctx, s, rephraseText, emit)
		return
	}
	g.reply(ctx, s, reply, emit)
}

// handleDeploy resolves the deploy intent to a direct shell invocation.
func (g *Gateway) handleDeploy(ctx context.Context, s *session.Session, result intent.Result, emit EmitFunc) {
	environment := "staging"
	if env, ok := result.Parameters["environment"].(string); ok && env != "" {
		environment = env
	}

	emit(Event{Type: "progress", SessionID: s.ID, Stage: "executing", Progress: 30}.withMessage(
		fmt.Sprintf("Деплой на %s...", environment)))

	if _, err := g.runShell(ctx, "make", "deploy", "ENV="+environment); err != nil {
		g.logger.Error("deploy failed", zap.String("environment", environment), zap.Error(err))
		emit(Event{Type: "error", SessionID: s.ID, Content: fmt.Sprintf("Ошибка деплоя: %v", err)})
		return
	}

	emit(Event{Type: "progress", SessionID: s.ID, Stage: "complete", Progress: 100}.withMessage("Готово"))
	g.reply(ctx, s, fmt.Sprintf("[OK] Успешно задеплоено на %s!", environment), emit)
}

// handleGenerateAgents resolves the generate-agents request to a direct shell
// invocation.
func (g *Gateway) handleGenerateAgents(ctx context.Context, s *session.Session, content string, emit EmitFunc) {
	project := s.CurrentProject()
	if match := regexp.MustCompile(`(?i)для\s+([\w-]+)`).FindStringSubmatch(content); len(match) > 1 {
		project = match[1]
	}
	if project == "" {
		emit(Event{
			Type:      "question",
			SessionID: s.ID,
			Question:  "Для какого проекта сгенерировать агентов?",
			Options:   []string{"my-app", "my-service", "my-bot"},
		})
		return
	}

	emit(Event{Type: "progress", SessionID: s.ID, Stage: "executing", Progress: 50}.withMessage(
		fmt.Sprintf("Генерирую агентов для %s...", project)))

	if _, err := g.runShell(ctx, "make", "generate-agents", "NAME="+project); err != nil {
		g.logger.Error("agent generation failed", zap.String("project", project), zap.Error(err))
		emit(Event{Type: "error", SessionID: s.ID, Content: fmt.Sprintf("Ошибка генерации агентов: %v", err)})
		return
	}

	emit(Event{Type: "progress", SessionID: s.ID, Stage: "complete", Progress: 100}.withMessage("Готово"))
	g.reply(ctx, s, fmt.Sprintf("[OK] Агенты для проекта %q сгенерированы!", project), emit)
}

func (g *Gateway) runShell(ctx context.Context, name string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, g.shellTO)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = g.workspace
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// reply records the assistant message and emits a complete event.
func (g *Gateway) reply(ctx context.Context, s *session.Session, content string, emit EmitFunc) {
	if err := s.AddAssistantMessage(ctx, content); err != nil {
		g.logger.Warn("failed to record assistant message", zap.Error(err))
	}
	emit(Event{Type: "complete", SessionID: s.ID, Agent: s.CurrentAgent(), Content: content})
}

// withMessage sets the human-readable text on a progress event, keeping the
// Event literals at call sites readable.
func (e Event) withMessage(message string) Event {
	e.Content = message
	return e
}
