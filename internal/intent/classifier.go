package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/RussianLioN/openclaw-gateway/internal/llm"
	"go.uber.org/zap"
)

// Intent is a coarse category of user request.
type Intent string

const (
	IntentCreateProject Intent = "create_project"
	IntentStatus        Intent = "status"
	IntentHelp          Intent = "help"
	IntentDeploy        Intent = "deploy"
	IntentChat          Intent = "chat"
	IntentSmallTalk     Intent = "small_talk"
)

var validIntents = map[Intent]bool{
	IntentCreateProject: true,
	IntentStatus:        true,
	IntentHelp:          true,
	IntentDeploy:        true,
	IntentChat:          true,
	IntentSmallTalk:     true,
}

// Result is the outcome of a single classification call. Parameters is never
// nil.
type Result struct {
	Intent     Intent         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Parameters map[string]any `json:"parameters"`
}

const (
	defaultTemperature = 0.1
	defaultThreshold   = 0.7
)

// Classifier resolves free-text user messages into intents. It asks the LLM
// first and degrades to keyword/regex matching when the adapter fails or its
// output does not validate. Low confidence alone never triggers the keyword
// fallback; it downgrades the result to chat instead.
type Classifier struct {
	client      llm.Client
	prompt      string
	temperature float64
	threshold   float64
	logger      *zap.Logger
}

// NewClassifier creates a classifier backed by the given LLM client.
func NewClassifier(client llm.Client, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		client:      client,
		prompt:      classifierSystemPrompt,
		temperature: defaultTemperature,
		threshold:   defaultThreshold,
		logger:      logger,
	}
}

// Classify resolves a user message into an intent. It always terminates in
// some Result: every failure path routes into the deterministic fallback.
func (c *Classifier) Classify(ctx context.Context, message string) Result {
	preview := message
	if len(preview) > 50 {
		preview = preview[:50]
	}
	c.logger.Debug("classifying message", zap.String("message", preview))

	result, err := c.classifyWithAI(ctx, message)
	if err != nil {
		c.logger.Warn("ai classification failed, using keyword fallback", zap.Error(err))
		return c.fallbackClassify(message)
	}

	c.logger.Debug("ai classification",
		zap.String("intent", string(result.Intent)),
		zap.Float64("confidence", result.Confidence))

	// Low-confidence non-chat classifications are never trusted downstream.
	if result.Confidence < c.threshold && result.Intent != IntentChat {
		c.logger.Debug("low confidence, downgrading to chat", zap.Float64("confidence", result.Confidence))
		return Result{Intent: IntentChat, Confidence: 1.0, Parameters: map[string]any{}}
	}

	return result
}

func (c *Classifier) classifyWithAI(ctx context.Context, message string) (Result, error) {
	messages := []llm.Message{
		{Role: "system", Content: c.prompt},
		{Role: "user", Content: message},
	}

	response, err := c.client.Chat(ctx, messages, &llm.Options{
		Temperature: c.temperature,
		Format:      "json",
	})
	if err != nil {
		return Result{}, err
	}

	cleaned := cleanJSONResponse(response)

	var parsed struct {
		Intent     string         `json:"intent"`
		Confidence *float64       `json:"confidence"`
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return Result{}, fmt.Errorf("invalid ai response: %w", err)
	}
	if parsed.Intent == "" || parsed.Confidence == nil {
		return Result{}, fmt.Errorf("invalid ai response: missing intent or confidence")
	}
	if !validIntents[Intent(parsed.Intent)] {
		return Result{}, fmt.Errorf("invalid intent: %s", parsed.Intent)
	}
	if parsed.Parameters == nil {
		parsed.Parameters = map[string]any{}
	}

	return Result{
		Intent:     Intent(parsed.Intent),
		Confidence: *parsed.Confidence,
		Parameters: parsed.Parameters,
	}, nil
}

// cleanJSONResponse strips markdown code-fence wrapping from a model response.
func cleanJSONResponse(response string) string {
	cleaned := strings.TrimSpace(response)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}

	lines := strings.Split(cleaned, "\n")
	lines = lines[1:] // drop ```json / ```
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Fallback pattern tables. Small-talk is checked first so short greetings are
// not swallowed by the broader keyword families below.
var (
	smallTalkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(привет|здравствуй|hello|hi|hey|йо|дарова)$`),
		regexp.MustCompile(`(?i)^(ping|pong|пинг|понг)$`),
		regexp.MustCompile(`(?i)^(спасибо|благодарю|thanks|thx|ty|спс)$`),
		regexp.MustCompile(`(?i)^(как дела|как ты|как жизнь|how are you|hows it going)$`),
		regexp.MustCompile(`(?i)^(ок|окей|ага|понял|ясно|good|ok|okay)$`),
		regexp.MustCompile(`(?i)^(пока|до свидания|bye|goodbye|покеда)$`),
	}

	createPattern = regexp.MustCompile(`(?i)(созда|create|сделай|generate|хочу)\s*(.*)?\s*(проект|project|приложение|app|бот|bot)`)
	statusPattern = regexp.MustCompile(`(?i)статус|status|состояние|state|как дела|что происходит`)
	helpPattern   = regexp.MustCompile(`(?i)помощь|help|справка|что ты умеешь|как использовать|команд`)
	deployPattern = regexp.MustCompile(`(?i)деплой|deploy|запуск|запусти|опубликовать|publish`)

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:проект|project|app|бот|bot)\s+["']?([a-z0-9-_]+)["']?`),
		regexp.MustCompile(`(?i)(?:созда|create)\s+(?:.*?)?\s+(?:назван|named|name)?\s+["']?([a-z0-9-_]+)["']?`),
	}
)

// archetypes is the fixed project-archetype vocabulary.
var archetypes = []string{"web-service", "telegram-bot", "ai-agent", "fullstack", "cli-tool"}

// fallbackClassify is the deterministic keyword/regex classification used when
// the AI path is unavailable or produced invalid output. First match wins.
func (c *Classifier) fallbackClassify(message string) Result {
	trimmed := strings.TrimSpace(message)

	for _, pattern := range smallTalkPatterns {
		if pattern.MatchString(trimmed) {
			c.logger.Debug("fallback matched small_talk")
			return Result{Intent: IntentSmallTalk, Confidence: 1.0, Parameters: map[string]any{}}
		}
	}

	if createPattern.MatchString(message) {
		c.logger.Debug("fallback matched create_project")
		return Result{Intent: IntentCreateProject, Confidence: 0.6, Parameters: extractCreateParams(message)}
	}

	if statusPattern.MatchString(message) {
		c.logger.Debug("fallback matched status")
		return Result{Intent: IntentStatus, Confidence: 0.7, Parameters: map[string]any{}}
	}

	if helpPattern.MatchString(message) {
		c.logger.Debug("fallback matched help")
		return Result{Intent: IntentHelp, Confidence: 0.8, Parameters: map[string]any{}}
	}

	if deployPattern.MatchString(message) {
		c.logger.Debug("fallback matched deploy")
		return Result{Intent: IntentDeploy, Confidence: 0.6, Parameters: map[string]any{}}
	}

	c.logger.Debug("fallback matched nothing, defaulting to chat")
	return Result{Intent: IntentChat, Confidence: 0.5, Parameters: map[string]any{}}
}

// extractCreateParams pulls a name token and an archetype token out of a
// create-project message.
func extractCreateParams(message string) map[string]any {
	params := map[string]any{}

	for _, pattern := range namePatterns {
		if match := pattern.FindStringSubmatch(message); len(match) > 1 && match[1] != "" {
			params["name"] = match[1]
			break
		}
	}

	lower := strings.ToLower(message)
	for _, archetype := range archetypes {
		if strings.Contains(lower, archetype) {
			params["archetype"] = archetype
			break
		}
	}

	return params
}

// ConfidenceThreshold returns the current confidence threshold.
func (c *Classifier) ConfidenceThreshold() float64 {
	return c.threshold
}

// SetConfidenceThreshold replaces the confidence threshold. Expected to be set
// once at startup; writers must not race readers.
func (c *Classifier) SetConfidenceThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1, got %v", threshold)
	}
	c.threshold = threshold
	return nil
}
