// ABOUTME: Speech and language pipeline contracts shared by the gateway
// ABOUTME: Defines the transcribe/respond/synthesize interface and tool plumbing

package pipeline

import (
	"context"
	"errors"
)

var (
	// ErrNoChoices is returned when the model reply contains no choices.
	ErrNoChoices = errors.New("model returned no choices")
	// ErrToolRoundsExceeded is returned when tool follow-ups do not converge.
	ErrToolRoundsExceeded = errors.New("tool follow-up limit exceeded")
)

// Message is a single conversation turn handed to the model.
type Message struct {
	Role    string
	Content string
}

// Request carries one user turn plus the conversation that precedes it.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Input        string
	Images       []string
}

// Usage reports context window consumption after a response.
type Usage struct {
	CurrentTokens int
	MaxTokens     int
	Threshold     float64
}

// Metrics reports response timing for the client dashboard.
type Metrics struct {
	TTFTMs    int64
	TokenRate float64
}

// Result is the completed model response for one request.
type Result struct {
	Text    string
	Usage   Usage
	Metrics Metrics
}

// Tool is a function the model may call during a response.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Run         func(ctx context.Context, args string) (string, error)
}

// Pipeline runs the speech-to-text, chat, and text-to-speech stages.
// Respond streams raw deltas through onDelta and completed sentences
// through onSentence; either callback may be nil.
type Pipeline interface {
	Transcribe(ctx context.Context, audio []byte, opus bool) (string, error)
	Respond(ctx context.Context, req Request, onDelta func(string), onSentence func(string)) (Result, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
