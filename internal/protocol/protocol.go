package protocol

import "time"

// Protocol versions understood by the gateway. The generator emits the
// current version; the executor additionally accepts the legacy one for
// requests produced by the older single-stage classifier path.
const (
	Version       = "1.1"
	VersionLegacy = "1.0"
)

// CommandRequest is the envelope piped to the CLI bridge process.
type CommandRequest struct {
	Version          string         `json:"version"`
	ID               string         `json:"id"`
	Timestamp        string         `json:"timestamp"`
	IntentConfidence float64        `json:"intent_confidence,omitempty"`
	Command          string         `json:"command"`
	Params           map[string]any `json:"params"`
	Context          RequestContext `json:"context"`
}

// RequestContext carries opaque correlation tokens through the envelope.
type RequestContext struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// CommandResponse is the envelope returned by the CLI bridge, or synthesized
// locally by the executor when the bridge never answered. ID always matches
// the originating request.
type CommandResponse struct {
	Version   string     `json:"version"`
	ID        string     `json:"id"`
	Status    string     `json:"status"` // "success" or "error"
	Result    any        `json:"result,omitempty"`
	Message   string     `json:"message,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Response statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error codes returned at the executor boundary.
const (
	CodeTimeout         = "TIMEOUT"
	CodeUnknownCommand  = "UNKNOWN_COMMAND"
	CodeInvalidParams   = "INVALID_PARAMS"
	CodeClaudeCodeError = "CLAUDE_CODE_ERROR"
)

// Timestamp formats envelope timestamps.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
