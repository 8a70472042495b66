package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message is a single role-tagged chat message sent to the inference backend.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Options tune a single chat completion call.
type Options struct {
	Temperature float64
	// Format hints the backend toward structured output ("json"). Not a hard
	// contract: callers must still defensively parse the returned text.
	Format     string
	NumPredict int
}

// Client defines the interface for chat completion backends.
type Client interface {
	// Chat sends a non-streaming completion request and returns the
	// assistant's text.
	Chat(ctx context.Context, messages []Message, opts *Options) (string, error)

	// ChatStream sends a streaming completion request. The returned channel
	// yields text fragments and is closed when the stream ends. The stream is
	// not restartable.
	ChatStream(ctx context.Context, messages []Message, opts *Options) (<-chan string, error)

	// Model reports the configured model identifier.
	Model() string
}

// ErrorKind distinguishes adapter failure modes so callers can branch on them
// for fallback decisions.
type ErrorKind int

const (
	// KindUnauthorized means the credential was missing or rejected (401).
	KindUnauthorized ErrorKind = iota
	// KindRateLimited means the backend throttled the request (429).
	KindRateLimited
	// KindServerError means the backend answered with a 5xx.
	KindServerError
	// KindNetworkUnavailable means no response reached us at all.
	KindNetworkUnavailable
	// KindMalformedRequest covers the remaining 4xx responses.
	KindMalformedRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate limited"
	case KindServerError:
		return "server error"
	case KindNetworkUnavailable:
		return "network unavailable"
	default:
		return "malformed request"
	}
}

// APIError is the typed failure returned by the adapter. No retries happen at
// this layer; the retry/backoff policy belongs to callers.
type APIError struct {
	Kind    ErrorKind
	Status  int // HTTP status, 0 when no response arrived
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("ollama api: %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("ollama api: %s: %s", e.Kind, e.Message)
}

// IsKind reports whether err is an *APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
