package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://ollama.com"
	DefaultModel   = "gemini-3-flash-preview:cloud"
	DefaultTimeout = 2 * time.Minute
)

// OllamaClient talks to the Ollama Cloud chat-completions API. The backend may
// answer in either its native shape or the OpenAI-compatible choices shape;
// both are unwrapped here so callers always receive plain text.
type OllamaClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Stream   bool         `json:"stream"`
	Format   string       `json:"format,omitempty"`
	Options  *chatOptions `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// chatResponse covers both response shapes the backend may use.
type chatResponse struct {
	Message *Message `json:"message,omitempty"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewOllamaClient creates a client for the Ollama chat-completions API. An
// empty apiKey is allowed; requests are simply sent unauthenticated.
func NewOllamaClient(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Model returns the configured model identifier.
func (c *OllamaClient) Model() string {
	return c.model
}

// WithModel returns a copy of the client configured for a different model.
func (c *OllamaClient) WithModel(model string) *OllamaClient {
	clone := *c
	clone.model = model
	return &clone
}

// Chat sends a non-streaming completion request.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, opts *Options) (string, error) {
	if len(messages) == 0 {
		return "", &APIError{Kind: KindMalformedRequest, Message: "messages must not be empty"}
	}

	body, err := c.post(ctx, c.buildRequest(messages, opts, false))
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", &APIError{Kind: KindNetworkUnavailable, Message: err.Error()}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &APIError{Kind: KindMalformedRequest, Message: fmt.Sprintf("unexpected response body: %v", err)}
	}

	if parsed.Message != nil && parsed.Message.Content != "" {
		return parsed.Message.Content, nil
	}
	if len(parsed.Choices) > 0 {
		return parsed.Choices[0].Message.Content, nil
	}

	return "", &APIError{Kind: KindMalformedRequest, Message: "unexpected response format"}
}

// ChatStream sends a streaming completion request. Fragments arrive on the
// returned channel; the channel is closed on the end marker, stream error or
// context cancellation.
func (c *OllamaClient) ChatStream(ctx context.Context, messages []Message, opts *Options) (<-chan string, error) {
	if len(messages) == 0 {
		return nil, &APIError{Kind: KindMalformedRequest, Message: "messages must not be empty"}
	}

	body, err := c.post(ctx, c.buildRequest(messages, opts, true))
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			// SSE framing: "data: {...}" lines, "[DONE]" terminates.
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.logger.Warn("skipping malformed stream chunk", zap.Error(err))
				continue
			}

			content := ""
			if chunk.Message != nil {
				content = chunk.Message.Content
			} else if len(chunk.Choices) > 0 {
				content = chunk.Choices[0].Message.Content
			}
			if content != "" {
				select {
				case out <- content:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}()

	return out, nil
}

// TestConnection checks whether the backend answers at all.
func (c *OllamaClient) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("connection test failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *OllamaClient) buildRequest(messages []Message, opts *Options, stream bool) *chatRequest {
	req := &chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   stream,
	}
	if opts != nil {
		req.Format = opts.Format
		if opts.Temperature != 0 || opts.NumPredict != 0 {
			req.Options = &chatOptions{
				Temperature: opts.Temperature,
				NumPredict:  opts.NumPredict,
			}
		}
	}
	return req
}

func (c *OllamaClient) post(ctx context.Context, payload *chatRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &APIError{Kind: KindMalformedRequest, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, &APIError{Kind: KindMalformedRequest, Message: err.Error()}
	}
	c.setHeaders(req)

	c.logger.Debug("ollama request", zap.String("model", payload.Model), zap.Bool("stream", payload.Stream))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindNetworkUnavailable, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}

	return resp.Body, nil
}

func (c *OllamaClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *OllamaClient) statusError(resp *http.Response) *APIError {
	message := resp.Status
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(body) > 0 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
	}

	kind := KindMalformedRequest
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = KindUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = KindRateLimited
	case resp.StatusCode >= 500:
		kind = KindServerError
	}

	return &APIError{Kind: kind, Status: resp.StatusCode, Message: message}
}
