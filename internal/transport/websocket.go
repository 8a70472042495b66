package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RussianLioN/openclaw-gateway/internal/executor"
	"github.com/RussianLioN/openclaw-gateway/internal/gateway"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ClientMessage is an incoming WebSocket frame.
type ClientMessage struct {
	Type      string         `json:"type"` // "chat", "command", "status", "ping"
	Content   string         `json:"content"`
	SessionID string         `json:"sessionId,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// WebSocketConfig configures the chat WebSocket server.
type WebSocketConfig struct {
	Host  string
	Port  int
	Model string
	// Configured reports whether an API credential is present; surfaced on
	// the health endpoint.
	Configured bool
	Stats      executor.Stats
}

// WebSocketServer serves the chat WebSocket endpoint and the health check.
type WebSocketServer struct {
	gw        *gateway.Gateway
	cfg       WebSocketConfig
	server    *http.Server
	startedAt time.Time
	logger    *zap.Logger
}

// NewWebSocketServer builds the HTTP server with /ws and /health routes.
func NewWebSocketServer(gw *gateway.Gateway, cfg WebSocketConfig, logger *zap.Logger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &WebSocketServer{
		gw:        gw,
		cfg:       cfg,
		startedAt: time.Now(),
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}
	return s
}

// Start listens until the server is shut down.
func (s *WebSocketServer) Start() error {
	s.logger.Info("websocket server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight handlers.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *WebSocketServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"status":   "healthy",
		"uptime":   time.Since(s.startedAt).Seconds(),
		"sessions": s.gw.Sessions().Count(),
		"ollama": map[string]any{
			"model":      s.cfg.Model,
			"configured": s.cfg.Configured,
		},
		"executor": s.cfg.Stats,
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("failed to write health response", zap.Error(err))
	}
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("failed to accept websocket", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	sess := s.gw.Sessions().GetOrCreate(gatewaySessionKey(r), r.RemoteAddr, usernameFromRequest(r))
	defer s.gw.Sessions().Delete(gatewaySessionKey(r))

	s.logger.Info("new connection", zap.String("session", sess.ID), zap.String("remote", r.RemoteAddr))

	ctx := r.Context()
	emit := func(event gateway.Event) {
		s.writeEvent(ctx, conn, event)
	}

	emit(s.gw.Welcome(sess.ID))

	// Messages for one session are processed strictly in arrival order: the
	// next read does not happen until the previous message's pipeline is done.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.logger.Info("connection closed", zap.String("session", sess.ID))
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			emit(gateway.Event{Type: "error", SessionID: sess.ID, Content: "Неверный формат сообщения"})
			continue
		}

		switch msg.Type {
		case "chat", "command":
			s.gw.HandleChat(ctx, sess, msg.Content, emit)
		case "status":
			emit(s.gw.SessionStatus(sess))
		case "ping":
			emit(gateway.Event{Type: "complete", SessionID: sess.ID, Content: "[PONG] Pong!"})
		default:
			emit(gateway.Event{Type: "error", SessionID: sess.ID, Content: fmt.Sprintf("Неизвестный тип сообщения: %s", msg.Type)})
		}
	}
}

func (s *WebSocketServer) writeEvent(ctx context.Context, conn *websocket.Conn, event gateway.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
	}
}

func gatewaySessionKey(r *http.Request) string {
	return "ws:" + r.RemoteAddr
}

func usernameFromRequest(r *http.Request) string {
	if username := r.Header.Get("X-Telegram-Username"); username != "" {
		return "telegram:" + username
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return "browser:" + forwarded
	}
	return "socket:" + r.RemoteAddr
}
