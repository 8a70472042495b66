package command

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/RussianLioN/openclaw-gateway/internal/llm"
	"github.com/RussianLioN/openclaw-gateway/internal/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// generatorSystemPrompt lists exactly the three commands the executor can run.
const generatorSystemPrompt = `You are a Command Generator for OpenClaw Gateway. Your task is to parse user requests and generate Command Protocol JSON commands.

Available commands:
1. create_project — Create a new project via Claude Code
   - Parameters: name (required), archetype (optional), framework (optional)
   - Example: "create project my-app" → {"command": "create_project", "params": {"name": "my-app"}}

2. status — Get system status
   - Parameters: none
   - Example: "what's the status" → {"command": "status", "params": {}}

3. help — Show help
   - Parameters: none
   - Example: "help" → {"command": "help", "params": {}}

Rules:
- Return ONLY valid JSON, no explanation text
- If request is ambiguous, return: {"status": "ambiguity", "question": "...", "options": [...]}
- If request is unclear, return: {"status": "error", "error": "..."}
- Extract parameters from natural language
- Validate required parameters for each command

Response format:
{
  "status": "success" | "ambiguity" | "error",
  "command": "command_name",
  "confidence": 0.0-1.0,
  "parameters": {...},
  "question": "...",
  "options": [...],
  "error": "..."
}`

// parsedIntent is the transient shape of one generation attempt.
type parsedIntent struct {
	Status     string         `json:"status"`
	Category   string         `json:"category,omitempty"`
	Confidence float64        `json:"confidence"`
	Parameters map[string]any `json:"parameters"`
	Command    string         `json:"command,omitempty"`
	Question   string         `json:"question,omitempty"`
	Options    []string       `json:"options,omitempty"`
	Error      string         `json:"error,omitempty"`
}

const (
	statusSuccess   = "success"
	statusAmbiguity = "ambiguity"
	statusErr       = "error"
)

// Context carries caller identity into the generated envelope. A non-zero
// IntentConfidence signals that an upstream classifier already ran: generation
// then only extracts parameters and keeps the supplied confidence.
type Context struct {
	UserID           string
	SessionID        string
	IntentConfidence float64
}

// Generator turns natural-language requests into Command Protocol envelopes.
// Its keyword fallback deliberately duplicates the classifier's tables: the
// two components are designed to fail independently, so they share no state.
type Generator struct {
	client      llm.Client
	prompt      string
	temperature float64
	logger      *zap.Logger
}

// NewGenerator creates a generator backed by the given LLM client.
func NewGenerator(client llm.Client, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:      client,
		prompt:      generatorSystemPrompt,
		temperature: 0.3,
		logger:      logger,
	}
}

// Generate converts user input into a CommandRequest. It fails only with
// *AmbiguityError or *GenerationError; adapter and parse failures are absorbed
// by the keyword fallback.
func (g *Generator) Generate(ctx context.Context, userInput string, genCtx *Context) (*protocol.CommandRequest, error) {
	if genCtx == nil {
		genCtx = &Context{}
	}

	var intent parsedIntent
	if genCtx.IntentConfidence > 0 {
		intent = g.generateFromPreClassified(ctx, userInput, genCtx.IntentConfidence)
	} else {
		intent = g.parseIntent(ctx, userInput)
	}

	switch intent.Status {
	case statusAmbiguity:
		question := intent.Question
		if question == "" {
			question = "Request unclear"
		}
		return nil, &AmbiguityError{Question: question, Options: intent.Options}
	case statusErr:
		reason := intent.Error
		if reason == "" {
			reason = "failed to parse request"
		}
		return nil, &GenerationError{Reason: reason}
	}

	if intent.Command == "" {
		return nil, &GenerationError{Reason: "no command generated"}
	}

	confidence := intent.Confidence
	if genCtx.IntentConfidence > 0 {
		confidence = genCtx.IntentConfidence
	}
	if intent.Parameters == nil {
		intent.Parameters = map[string]any{}
	}

	return &protocol.CommandRequest{
		Version:          protocol.Version,
		ID:               uuid.NewString(),
		Timestamp:        protocol.Timestamp(time.Now()),
		IntentConfidence: confidence,
		Command:          intent.Command,
		Params:           intent.Parameters,
		Context: protocol.RequestContext{
			UserID:    genCtx.UserID,
			SessionID: genCtx.SessionID,
		},
	}, nil
}

// generateFromPreClassified skips full intent parsing: the upstream classifier
// already decided the category, so only parameter extraction is asked of the
// model. The classifier's confidence overwrites whatever the model reports.
func (g *Generator) generateFromPreClassified(ctx context.Context, userInput string, confidence float64) parsedIntent {
	messages := []llm.Message{
		{Role: "system", Content: g.prompt},
		{Role: "user", Content: fmt.Sprintf("Extract parameters from: %q", userInput)},
	}

	response, err := g.client.Chat(ctx, messages, &llm.Options{Temperature: g.temperature})
	if err != nil {
		g.logger.Warn("pre-classified parsing failed, using keyword fallback", zap.Error(err))
		return g.fallbackParse(userInput)
	}

	var parsed parsedIntent
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		g.logger.Warn("pre-classified response unparseable, using keyword fallback", zap.Error(err))
		return g.fallbackParse(userInput)
	}

	parsed.Confidence = confidence
	return parsed
}

// parseIntent performs the generator's own independent AI-based parse.
func (g *Generator) parseIntent(ctx context.Context, userInput string) parsedIntent {
	messages := []llm.Message{
		{Role: "system", Content: g.prompt},
		{Role: "user", Content: fmt.Sprintf("Parse this request: %q", userInput)},
	}

	response, err := g.client.Chat(ctx, messages, &llm.Options{Temperature: g.temperature})
	if err != nil {
		g.logger.Warn("ai parsing failed, using keyword fallback", zap.Error(err))
		return g.fallbackParse(userInput)
	}

	var parsed parsedIntent
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		g.logger.Warn("ai response unparseable, using keyword fallback", zap.Error(err))
		return g.fallbackParse(userInput)
	}
	if parsed.Status == "" {
		g.logger.Warn("ai response missing status, using keyword fallback")
		return g.fallbackParse(userInput)
	}

	return parsed
}

// Keyword tables for the rule-based fallback. Intentionally not shared with
// the intent classifier's tables.
var (
	createKeywords  = []string{"созда", "create", "новый", "new", "сделай", "сгенерируй"}
	projectKeywords = []string{"проект", "project", "приложение", "app", "бот", "bot"}
	statusKeywords  = []string{"статус", "status", "состояние", "state", "как дела", "что происходит"}
	helpKeywords    = []string{"помощь", "help", "справка", "команд", "что ты умеешь", "как использовать"}

	genNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:проект|project|app|бот|bot)\s+["']?([a-z0-9-]+)["']?`),
		regexp.MustCompile(`(?i)(?:созда|create)\s+(?:.*?)\s+(?:назван|named|name)?\s+["']?([a-z0-9-]+)["']?`),
	}

	genArchetypes = []string{"web-service", "telegram-bot", "ai-agent", "fullstack", "cli-tool"}
)

// fallbackParse is the rule-based parse used when the AI path fails.
func (g *Generator) fallbackParse(userInput string) parsedIntent {
	lower := strings.ToLower(userInput)

	if containsAny(lower, createKeywords) && containsAny(lower, projectKeywords) {
		return g.parseCreateProject(userInput)
	}

	if containsAny(lower, statusKeywords) {
		return parsedIntent{Status: statusSuccess, Command: "status", Confidence: 0.7, Parameters: map[string]any{}}
	}

	if containsAny(lower, helpKeywords) {
		return parsedIntent{Status: statusSuccess, Command: "help", Confidence: 0.9, Parameters: map[string]any{}}
	}

	return parsedIntent{
		Status:     statusAmbiguity,
		Question:   "Что вы хотите сделать?",
		Options:    []string{"Создать проект", "Показать статус", "Справка"},
		Parameters: map[string]any{},
	}
}

// parseCreateProject extracts create_project parameters. A create request
// without an extractable name is an ambiguity asking the user to name the
// project, not an error.
func (g *Generator) parseCreateProject(userInput string) parsedIntent {
	params := map[string]any{}

	for _, pattern := range genNamePatterns {
		if match := pattern.FindStringSubmatch(userInput); len(match) > 1 && match[1] != "" {
			params["name"] = match[1]
			break
		}
	}

	lower := strings.ToLower(userInput)
	for _, archetype := range genArchetypes {
		if strings.Contains(lower, archetype) {
			params["archetype"] = archetype
			break
		}
	}

	if _, ok := params["name"]; !ok {
		return parsedIntent{
			Status:     statusAmbiguity,
			Question:   "Как назвать проект?",
			Options:    []string{"my-app", "my-service", "my-bot"},
			Confidence: 0.5,
			Parameters: params,
		}
	}

	return parsedIntent{
		Status:     statusSuccess,
		Command:    "create_project",
		Confidence: 0.8,
		Parameters: params,
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// AvailableCommands lists the commands the generator can emit.
func (g *Generator) AvailableCommands() []string {
	return []string{"create_project", "status", "help"}
}

// CommandExamples returns example phrasings per command.
func (g *Generator) CommandExamples() map[string][]string {
	return map[string][]string{
		"create_project": {
			"Создай проект my-app",
			"Create project telegram-bot delivery-bot",
			"Создай web-service api",
		},
		"status": {
			"Покажи статус",
			"What's the status",
			"Статус системы",
		},
		"help": {
			"Помощь",
			"Help",
			"Что ты умеешь?",
		},
	}
}
