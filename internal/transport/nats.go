package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RussianLioN/openclaw-gateway/internal/gateway"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ClassifyRequest is the NATS request/reply payload for standalone intent
// classification. Other services use this endpoint without going through the
// full command pipeline.
type ClassifyRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ClassifyResponse is the reply payload.
type ClassifyResponse struct {
	SessionID    string         `json:"session_id"`
	Intent       string         `json:"intent,omitempty"`
	Confidence   float64        `json:"confidence,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// NATSConfig configures the NATS intent endpoint.
type NATSConfig struct {
	URL     string
	Subject string
	Name    string
	Timeout time.Duration
}

// NATSTransport serves intent classification over NATS request/reply.
type NATSTransport struct {
	conn       *nats.Conn
	subject    string
	timeout    time.Duration
	classifier gateway.Classifier
	logger     *zap.Logger
}

// NewNATSTransport connects to NATS. Reconnects are retried indefinitely.
func NewNATSTransport(cfg NATSConfig, classifier gateway.Classifier, logger *zap.Logger) (*NATSTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Subject == "" {
		cfg.Subject = "intent.classify"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL))

	return &NATSTransport{
		conn:       conn,
		subject:    cfg.Subject,
		timeout:    cfg.Timeout,
		classifier: classifier,
		logger:     logger,
	}, nil
}

// Start subscribes to the classification subject.
func (nt *NATSTransport) Start() error {
	if _, err := nt.conn.Subscribe(nt.subject, nt.handleClassifyRequest); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nt.subject, err)
	}
	nt.logger.Info("subscribed", zap.String("subject", nt.subject))
	return nil
}

func (nt *NATSTransport) handleClassifyRequest(msg *nats.Msg) {
	var request ClassifyRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		nt.logger.Warn("invalid classify request", zap.Error(err))
		nt.respond(msg, &ClassifyResponse{
			ErrorCode:    "PARSE_ERROR",
			ErrorMessage: "invalid request format",
		})
		return
	}
	if request.Message == "" {
		nt.respond(msg, &ClassifyResponse{
			SessionID:    request.SessionID,
			ErrorCode:    "PARSE_ERROR",
			ErrorMessage: "message is required",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), nt.timeout)
	defer cancel()

	result := nt.classifier.Classify(ctx, request.Message)

	nt.respond(msg, &ClassifyResponse{
		SessionID:  request.SessionID,
		Intent:     string(result.Intent),
		Confidence: result.Confidence,
		Parameters: result.Parameters,
	})
}

func (nt *NATSTransport) respond(msg *nats.Msg, response *ClassifyResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		nt.logger.Error("failed to marshal classify response", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		nt.logger.Error("failed to send classify response", zap.Error(err))
	}
}

// Close closes the NATS connection.
func (nt *NATSTransport) Close() error {
	if nt.conn != nil {
		nt.conn.Close()
		nt.logger.Info("NATS connection closed")
	}
	return nil
}
