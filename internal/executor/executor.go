package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/RussianLioN/openclaw-gateway/internal/protocol"
	"go.uber.org/zap"
)

const DefaultTimeout = 2 * time.Minute

// supportedVersions at the executor boundary. The generator emits 1.1, the
// legacy single-stage path emits 1.0; both are executable.
var supportedVersions = map[string]bool{
	protocol.Version:       true,
	protocol.VersionLegacy: true,
}

// validCommands is the executor's command whitelist. Higher layers resolve
// generate_agents and deploy to shell invocations directly; those never reach
// this boundary.
var validCommands = map[string]bool{
	"create_project": true,
	"status":         true,
	"help":           true,
}

// Config for a CLI bridge executor. Immutable after construction.
type Config struct {
	WrapperPath string
	Container   string
	Workspace   string
	Timeout     time.Duration
}

// ProgressFunc receives coarse progress callbacks from ExecuteWithProgress.
type ProgressFunc = func(stage string, progress int, message string)

// Executor runs Command Protocol envelopes against the external CLI bridge
// process. Execute never returns an error to the caller: every failure path
// is mapped into an error-shaped CommandResponse carrying the request's id.
type Executor struct {
	wrapperPath string
	container   string
	workspace   string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewExecutor creates an executor. A missing or non-executable bridge path is
// logged as a warning rather than failing: the service is allowed to start
// before its dependency is provisioned, and commands fail at execution time.
func NewExecutor(cfg Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WrapperPath == "" {
		cfg.WrapperPath = "./server/scripts/claude-wrapper.sh"
	}
	if cfg.Container == "" {
		cfg.Container = "claude-code-runner"
	}
	if cfg.Workspace == "" {
		cfg.Workspace, _ = os.Getwd()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	e := &Executor{
		wrapperPath: cfg.WrapperPath,
		container:   cfg.Container,
		workspace:   cfg.Workspace,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
	e.validateWrapper()
	return e
}

func (e *Executor) validateWrapper() {
	info, err := os.Stat(e.wrapperPath)
	if err != nil {
		e.logger.Warn("cli wrapper not found, commands will fail until it is available",
			zap.String("path", e.wrapperPath))
		return
	}
	if info.Mode()&0o111 == 0 {
		e.logger.Warn("cli wrapper is not executable", zap.String("path", e.wrapperPath))
		return
	}
	e.logger.Info("cli wrapper", zap.String("path", e.wrapperPath))
}

// Execute runs one request against the CLI bridge and returns the bridge's
// response, or a locally synthesized error response.
func (e *Executor) Execute(ctx context.Context, request *protocol.CommandRequest) *protocol.CommandResponse {
	start := time.Now()

	if err := e.validateRequest(request); err != nil {
		e.logger.Warn("request rejected", zap.String("command", request.Command), zap.Error(err))
		return e.errorResponse(request, err)
	}

	e.logger.Info("executing command", zap.String("command", request.Command), zap.String("id", request.ID))

	output, err := e.run(ctx, request)
	if err != nil {
		e.logger.Error("command failed",
			zap.String("command", request.Command),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return e.errorResponse(request, err)
	}

	response, err := e.parseResponse(output)
	if err != nil {
		e.logger.Error("response unparseable", zap.String("command", request.Command), zap.Error(err))
		return e.errorResponse(request, err)
	}

	e.logger.Info("command completed",
		zap.String("command", request.Command),
		zap.Duration("duration", time.Since(start)))
	return response
}

// ExecuteWithProgress brackets Execute with exactly two progress callbacks.
// Real sub-progress is not streamed from the bridge.
func (e *Executor) ExecuteWithProgress(ctx context.Context, request *protocol.CommandRequest, onProgress ProgressFunc) *protocol.CommandResponse {
	if onProgress != nil {
		onProgress("executing", 50, fmt.Sprintf("Executing %s...", request.Command))
	}
	response := e.Execute(ctx, request)
	if onProgress != nil {
		onProgress("complete", 100, "Complete")
	}
	return response
}

// validateRequest fails closed before any process is spawned. Repeated
// validation of the same request is side-effect free.
func (e *Executor) validateRequest(request *protocol.CommandRequest) error {
	if !supportedVersions[request.Version] {
		return fmt.Errorf("unsupported protocol version: %s", request.Version)
	}
	if request.ID == "" {
		return errors.New("missing required field: id")
	}
	if request.Command == "" {
		return errors.New("missing required field: command")
	}
	if !validCommands[request.Command] {
		return fmt.Errorf("Unknown command: %s", request.Command)
	}
	return nil
}

// run pipes the request JSON to the bridge process on stdin and returns its
// combined output, under the configured wall-clock timeout.
func (e *Executor) run(ctx context.Context, request *protocol.CommandRequest) ([]byte, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, e.wrapperPath)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Dir = e.workspace
	cmd.Env = append(os.Environ(),
		"CLI_WRAPPER="+e.wrapperPath,
		"CLAUDE_CODE_CONTAINER="+e.container,
		"WORKSPACE="+e.workspace,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command timeout after %s: %w", e.timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("bridge execution failed: %w", err)
	}
	return output, nil
}

// parseResponse extracts the first balanced JSON object from the bridge's
// output, tolerating leading and trailing log noise.
func (e *Executor) parseResponse(output []byte) (*protocol.CommandResponse, error) {
	raw := extractJSON(string(output))
	if raw == "" {
		return nil, errors.New("failed to parse response: no JSON found in output")
	}

	var response protocol.CommandResponse
	if err := json.Unmarshal([]byte(raw), &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Version == "" || response.Status == "" {
		return nil, errors.New("failed to parse response: invalid response structure")
	}
	return &response, nil
}

// extractJSON returns the first balanced {...} substring of s, respecting
// string literals and escapes.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// errorResponse synthesizes an error-shaped response locally. The id is
// copied from the request so correlation holds even when the bridge never
// answered.
func (e *Executor) errorResponse(request *protocol.CommandRequest, err error) *protocol.CommandResponse {
	return &protocol.CommandResponse{
		Version:   protocol.VersionLegacy,
		ID:        request.ID,
		Status:    protocol.StatusError,
		Timestamp: protocol.Timestamp(time.Now()),
		Error: &protocol.ErrorInfo{
			Code:    errorCode(err),
			Message: err.Error(),
			Details: map[string]any{
				"command": request.Command,
				"params":  request.Params,
			},
		},
	}
}

// errorCode maps a failure to one of the fixed bridge error codes. Structured
// causes are checked first; the substring table is the last-resort classifier
// for errors arriving from the opaque external process.
func errorCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.CodeTimeout
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
		return protocol.CodeClaudeCodeError
	}

	message := err.Error()
	switch {
	case strings.Contains(message, "ETIMEDOUT") || strings.Contains(message, "timeout"):
		return protocol.CodeTimeout
	case strings.Contains(message, "ENOENT") || strings.Contains(message, "not found"):
		return protocol.CodeClaudeCodeError
	case strings.Contains(message, "Unknown command"):
		return protocol.CodeUnknownCommand
	case strings.Contains(message, "Invalid params"):
		return protocol.CodeInvalidParams
	default:
		return protocol.CodeClaudeCodeError
	}
}

// TestConnection runs a help command end to end against the bridge.
func (e *Executor) TestConnection(ctx context.Context) bool {
	request := &protocol.CommandRequest{
		Version:   protocol.VersionLegacy,
		ID:        "test-connection",
		Timestamp: protocol.Timestamp(time.Now()),
		Command:   "help",
		Params:    map[string]any{},
	}
	return e.Execute(ctx, request).Status == protocol.StatusSuccess
}

// Stats reports the executor's immutable configuration.
type Stats struct {
	WrapperPath string        `json:"cli_wrapper_path"`
	Container   string        `json:"claude_code_container"`
	Workspace   string        `json:"workspace"`
	Timeout     time.Duration `json:"timeout"`
}

func (e *Executor) Stats() Stats {
	return Stats{
		WrapperPath: e.wrapperPath,
		Container:   e.container,
		Workspace:   e.workspace,
		Timeout:     e.timeout,
	}
}
