// Package llm provides the conversational language-model interface: one
// call per turn returning intent, next stage, reply text, end-call flag
// and extracted qualification fields.
package llm

import (
	"context"
	"fmt"

	"github.com/voxline-ai/voxline/pkg/core/call"
)

// Request carries the bounded context the model sees each turn.
type Request struct {
	// Transcript is the bounded tail of the conversation, oldest first.
	Transcript []call.Entry

	// Lead is the caller-supplied context for the call.
	Lead call.LeadContext

	// Collected holds already-extracted field values. The prompt instructs
	// the model never to re-request any field present here.
	Collected map[string]any

	// Stage is the current conversation stage.
	Stage call.Stage
}

// Result is the structured model decision for one turn.
type Result struct {
	Intent          string         `json:"intent"`
	NextStage       string         `json:"next_stage"`
	ReplyText       string         `json:"reply_text"`
	ShouldEndCall   bool           `json:"should_end_call"`
	ExtractedFields map[string]any `json:"extracted_fields"`
}

// Provider is the interface for language-model services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Generate produces the next-turn decision.
	Generate(ctx context.Context, req Request) (*Result, error)
}

// GenerationError wraps a provider failure. The orchestrator retries once,
// then falls back to a fixed generic reply; it never aborts the call.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// MalformedOutputError marks a response that could not be decoded into the
// Result contract. It is treated as a GenerationError after one reformat
// retry.
type MalformedOutputError struct {
	Provider string
	Raw      string
	Err      error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s returned malformed output: %v", e.Provider, e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }
