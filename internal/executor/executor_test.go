package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RussianLioN/openclaw-gateway/internal/protocol"
)

// writeBridge drops an executable shell script standing in for the CLI bridge.
func writeBridge(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func newTestExecutor(t *testing.T, script string, timeout time.Duration) *Executor {
	t.Helper()
	return NewExecutor(Config{
		WrapperPath: writeBridge(t, script),
		Workspace:   t.TempDir(),
		Timeout:     timeout,
	}, nil)
}

func validRequest(command string) *protocol.CommandRequest {
	return &protocol.CommandRequest{
		Version:   protocol.Version,
		ID:        "test-id",
		Timestamp: protocol.Timestamp(time.Now()),
		Command:   command,
		Params:    map[string]any{},
	}
}

func TestExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t, `cat > /dev/null
echo '{"version":"1.0","id":"test-id","status":"success","result":{"text":"ok"},"timestamp":"2026-01-01T00:00:00Z"}'`, 5*time.Second)

	resp := e.Execute(context.Background(), validRequest("help"))

	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.Equal(t, "test-id", resp.ID)
	assert.Nil(t, resp.Error)
}

func TestExecuteSendsRequestOnStdin(t *testing.T) {
	// The bridge echoes the command it received back in the result message.
	e := newTestExecutor(t, `cmd=$(sed 's/.*"command":"\([^"]*\)".*/\1/')
echo "{\"version\":\"1.0\",\"id\":\"test-id\",\"status\":\"success\",\"message\":\"got $cmd\",\"timestamp\":\"2026-01-01T00:00:00Z\"}"`, 5*time.Second)

	resp := e.Execute(context.Background(), validRequest("status"))

	require.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.Equal(t, "got status", resp.Message)
}

func TestExecuteRejectsBadVersionWithoutSpawning(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	e := newTestExecutor(t, "touch "+marker, 5*time.Second)

	req := validRequest("help")
	req.Version = "2.0"

	resp := e.Execute(context.Background(), req)

	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, "test-id", resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeClaudeCodeError, resp.Error.Code)
	assert.NoFileExists(t, marker)
}

func TestExecuteValidationErrors(t *testing.T) {
	e := newTestExecutor(t, "exit 0", 5*time.Second)

	tests := []struct {
		name     string
		mutate   func(*protocol.CommandRequest)
		wantCode string
	}{
		{"unknown command", func(r *protocol.CommandRequest) { r.Command = "delete_everything" }, protocol.CodeUnknownCommand},
		{"missing id", func(r *protocol.CommandRequest) { r.ID = "" }, protocol.CodeClaudeCodeError},
		{"missing command", func(r *protocol.CommandRequest) { r.Command = "" }, protocol.CodeClaudeCodeError},
		{"legacy version accepted then unknown command", func(r *protocol.CommandRequest) {
			r.Version = protocol.VersionLegacy
			r.Command = "deploy"
		}, protocol.CodeUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest("help")
			tt.mutate(req)

			resp := e.Execute(context.Background(), req)

			assert.Equal(t, protocol.StatusError, resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestExecuteLegacyVersionRuns(t *testing.T) {
	e := newTestExecutor(t, `cat > /dev/null
echo '{"version":"1.0","id":"test-id","status":"success","timestamp":"2026-01-01T00:00:00Z"}'`, 5*time.Second)

	req := validRequest("help")
	req.Version = protocol.VersionLegacy

	resp := e.Execute(context.Background(), req)
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
}

func TestExecuteTimeout(t *testing.T) {
	e := newTestExecutor(t, "exec sleep 5", 100*time.Millisecond)

	resp := e.Execute(context.Background(), validRequest("help"))

	assert.Equal(t, protocol.StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeTimeout, resp.Error.Code)
	assert.Equal(t, "test-id", resp.ID)
}

func TestExecuteMissingBridge(t *testing.T) {
	e := NewExecutor(Config{
		WrapperPath: filepath.Join(t.TempDir(), "does-not-exist.sh"),
		Timeout:     time.Second,
	}, nil)

	resp := e.Execute(context.Background(), validRequest("help"))

	assert.Equal(t, protocol.StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeClaudeCodeError, resp.Error.Code)
}

func TestExecuteNoisyOutput(t *testing.T) {
	e := newTestExecutor(t, `cat > /dev/null
echo "starting bridge..."
echo '{"version":"1.0","id":"test-id","status":"success","message":"with {braces} inside","timestamp":"2026-01-01T00:00:00Z"}'
echo "bridge done"`, 5*time.Second)

	resp := e.Execute(context.Background(), validRequest("status"))

	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.Equal(t, "with {braces} inside", resp.Message)
}

func TestExecuteNonJSONOutput(t *testing.T) {
	e := newTestExecutor(t, `cat > /dev/null
echo "segmentation fault"`, 5*time.Second)

	resp := e.Execute(context.Background(), validRequest("help"))

	assert.Equal(t, protocol.StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeClaudeCodeError, resp.Error.Code)
}

func TestExecuteWithProgressOrder(t *testing.T) {
	e := newTestExecutor(t, `cat > /dev/null
echo '{"version":"1.0","id":"test-id","status":"success","timestamp":"2026-01-01T00:00:00Z"}'`, 5*time.Second)

	type call struct {
		stage    string
		progress int
	}
	var calls []call
	resp := e.ExecuteWithProgress(context.Background(), validRequest("help"), func(stage string, progress int, message string) {
		calls = append(calls, call{stage, progress})
	})

	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	require.Len(t, calls, 2)
	assert.Equal(t, call{"executing", 50}, calls[0])
	assert.Equal(t, call{"complete", 100}, calls[1])
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"leading noise", `log line {"a":1}`, `{"a":1}`},
		{"trailing noise", `{"a":1} done`, `{"a":1}`},
		{"nested objects", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"braces in string", `{"a":"{not a brace}"}`, `{"a":"{not a brace}"}`},
		{"escaped quote in string", `{"a":"he said \"}\""}`, `{"a":"he said \"}\""}`},
		{"no object", "plain text", ""},
		{"unbalanced", `{"a":1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline exceeded", context.DeadlineExceeded, protocol.CodeTimeout},
		{"wrapped deadline", errors.New("command timeout after 2m0s"), protocol.CodeTimeout},
		{"etimedout text", errors.New("connect ETIMEDOUT 10.0.0.1:443"), protocol.CodeTimeout},
		{"file missing", os.ErrNotExist, protocol.CodeClaudeCodeError},
		{"exec not found", exec.ErrNotFound, protocol.CodeClaudeCodeError},
		{"enoent text", errors.New("spawn ENOENT"), protocol.CodeClaudeCodeError},
		{"unknown command", errors.New("Unknown command: deploy"), protocol.CodeUnknownCommand},
		{"invalid params", errors.New("Invalid params: name required"), protocol.CodeInvalidParams},
		{"anything else", errors.New("disk on fire"), protocol.CodeClaudeCodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func TestTestConnection(t *testing.T) {
	ok := newTestExecutor(t, `cat > /dev/null
echo '{"version":"1.0","id":"test-connection","status":"success","timestamp":"2026-01-01T00:00:00Z"}'`, 5*time.Second)
	assert.True(t, ok.TestConnection(context.Background()))

	bad := newTestExecutor(t, "exit 1", 5*time.Second)
	assert.False(t, bad.TestConnection(context.Background()))
}

func TestStatsReflectsConfig(t *testing.T) {
	e := NewExecutor(Config{
		WrapperPath: "/opt/bridge.sh",
		Container:   "runner-1",
		Workspace:   "/work",
		Timeout:     30 * time.Second,
	}, nil)

	stats := e.Stats()
	assert.Equal(t, "/opt/bridge.sh", stats.WrapperPath)
	assert.Equal(t, "runner-1", stats.Container)
	assert.Equal(t, "/work", stats.Workspace)
	assert.Equal(t, 30*time.Second, stats.Timeout)
}
