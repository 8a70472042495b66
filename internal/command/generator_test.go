package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RussianLioN/openclaw-gateway/internal/llm"
	"github.com/RussianLioN/openclaw-gateway/internal/protocol"
)

type stubClient struct {
	response string
	err      error
	lastUser string
}

func (s *stubClient) Chat(ctx context.Context, messages []llm.Message, opts *llm.Options) (string, error) {
	if len(messages) > 0 {
		s.lastUser = messages[len(messages)-1].Content
	}
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubClient) ChatStream(ctx context.Context, messages []llm.Message, opts *llm.Options) (<-chan string, error) {
	out := make(chan string)
	close(out)
	return out, s.err
}

func (s *stubClient) Model() string { return "stub" }

func TestGenerateSuccess(t *testing.T) {
	client := &stubClient{response: `{"status":"success","command":"create_project","confidence":0.85,"parameters":{"name":"my-app"}}`}
	g := NewGenerator(client, nil)

	req, err := g.Generate(context.Background(), "создай проект my-app", &Context{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, protocol.Version, req.Version)
	assert.NotEmpty(t, req.ID)
	assert.NotEmpty(t, req.Timestamp)
	assert.Equal(t, "create_project", req.Command)
	assert.InDelta(t, 0.85, req.IntentConfidence, 1e-9)
	assert.Equal(t, "my-app", req.Params["name"])
	assert.Equal(t, "u1", req.Context.UserID)
	assert.Equal(t, "s1", req.Context.SessionID)
}

func TestGeneratePreClassifiedOverridesConfidence(t *testing.T) {
	client := &stubClient{response: `{"status":"success","command":"create_project","confidence":0.3,"parameters":{"name":"shop"}}`}
	g := NewGenerator(client, nil)

	req, err := g.Generate(context.Background(), "создай проект shop", &Context{IntentConfidence: 0.95})
	require.NoError(t, err)

	// Classifier confidence wins over whatever the model reported.
	assert.InDelta(t, 0.95, req.IntentConfidence, 1e-9)
	assert.Contains(t, client.lastUser, "Extract parameters from")
}

func TestGenerateAmbiguity(t *testing.T) {
	client := &stubClient{response: `{"status":"ambiguity","question":"Какой проект?","options":["my-app","my-bot"]}`}
	g := NewGenerator(client, nil)

	_, err := g.Generate(context.Background(), "создай что-нибудь", nil)
	require.Error(t, err)

	var ambErr *AmbiguityError
	require.ErrorAs(t, err, &ambErr)
	assert.Equal(t, "Какой проект?", ambErr.Question)
	assert.Equal(t, []string{"my-app", "my-bot"}, ambErr.Options)
}

func TestGenerateErrorStatus(t *testing.T) {
	client := &stubClient{response: `{"status":"error","error":"cannot parse"}`}
	g := NewGenerator(client, nil)

	_, err := g.Generate(context.Background(), "abrakadabra", nil)
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "cannot parse", genErr.Reason)
}

func TestGenerateSuccessWithoutCommand(t *testing.T) {
	client := &stubClient{response: `{"status":"success","confidence":0.9,"parameters":{}}`}
	g := NewGenerator(client, nil)

	_, err := g.Generate(context.Background(), "статус", nil)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestGenerateAdapterErrorUsesFallback(t *testing.T) {
	client := &stubClient{err: errors.New("connection refused")}
	g := NewGenerator(client, nil)

	req, err := g.Generate(context.Background(), "создай проект billing", nil)
	require.NoError(t, err)

	assert.Equal(t, "create_project", req.Command)
	assert.Equal(t, "billing", req.Params["name"])
}

func TestGenerateUnparseableResponseUsesFallback(t *testing.T) {
	client := &stubClient{response: "sure, I'll create that project for you!"}
	g := NewGenerator(client, nil)

	req, err := g.Generate(context.Background(), "покажи статус", nil)
	require.NoError(t, err)
	assert.Equal(t, "status", req.Command)
	assert.InDelta(t, 0.7, req.IntentConfidence, 1e-9)
}

func TestFallbackParseTable(t *testing.T) {
	g := NewGenerator(&stubClient{err: errors.New("down")}, nil)

	tests := []struct {
		input          string
		wantCommand    string
		wantConfidence float64
	}{
		{"создай проект store", "create_project", 0.8},
		{"create new app dashboard", "create_project", 0.8},
		{"какое состояние системы", "status", 0.7},
		{"справка", "help", 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			req, err := g.Generate(context.Background(), tt.input, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCommand, req.Command)
			assert.InDelta(t, tt.wantConfidence, req.IntentConfidence, 1e-9)
		})
	}
}

func TestFallbackCreateWithoutNameAsksForOne(t *testing.T) {
	g := NewGenerator(&stubClient{err: errors.New("down")}, nil)

	_, err := g.Generate(context.Background(), "создай проект", nil)
	require.Error(t, err)

	var ambErr *AmbiguityError
	require.ErrorAs(t, err, &ambErr)
	assert.Equal(t, "Как назвать проект?", ambErr.Question)
	assert.NotEmpty(t, ambErr.Options)
}

func TestFallbackUnrecognizedIsAmbiguity(t *testing.T) {
	g := NewGenerator(&stubClient{err: errors.New("down")}, nil)

	_, err := g.Generate(context.Background(), "сколько будет дважды два", nil)
	require.Error(t, err)

	var ambErr *AmbiguityError
	require.ErrorAs(t, err, &ambErr)
	assert.Equal(t, "Что вы хотите сделать?", ambErr.Question)
	assert.Len(t, ambErr.Options, 3)
}

func TestFallbackCreateExtractsArchetype(t *testing.T) {
	g := NewGenerator(&stubClient{err: errors.New("down")}, nil)

	req, err := g.Generate(context.Background(), "создай проект notifier типа telegram-bot", nil)
	require.NoError(t, err)

	assert.Equal(t, "create_project", req.Command)
	assert.Equal(t, "notifier", req.Params["name"])
	assert.Equal(t, "telegram-bot", req.Params["archetype"])
}

func TestAvailableCommandsMatchExamples(t *testing.T) {
	g := NewGenerator(&stubClient{}, nil)

	commands := g.AvailableCommands()
	examples := g.CommandExamples()

	assert.ElementsMatch(t, []string{"create_project", "status", "help"}, commands)
	for _, cmd := range commands {
		assert.NotEmpty(t, examples[cmd], "missing examples for %s", cmd)
	}
}

func TestErrorStrings(t *testing.T) {
	ambErr := &AmbiguityError{Question: "Какой проект?", Options: []string{"a", "b"}}
	assert.Contains(t, ambErr.Error(), "Какой проект?")

	genErr := &GenerationError{Reason: "no command"}
	assert.Contains(t, genErr.Error(), "no command")
}
