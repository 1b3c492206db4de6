// Package tts provides text-to-speech functionality.
package tts

import (
	"context"
	"fmt"
)

// Provider is the interface for speech-synthesis services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to raw telephony PCM.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SynthesisError wraps a provider failure. The responder falls back to a
// short acknowledgment tone, never silence.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s synthesis: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
