package command

import "fmt"

// AmbiguityError means the request cannot proceed without a clarifying answer
// from the user. It is a recoverable, user-facing condition, not a system
// fault: callers should re-prompt with Question and Options.
type AmbiguityError struct {
	Question string
	Options  []string
}

func (e *AmbiguityError) Error() string {
	return e.Question
}

// GenerationError means the user's text could not be turned into any valid
// command. Callers surface it as "please rephrase".
type GenerationError struct {
	Reason string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("command generation failed: %s", e.Reason)
}
