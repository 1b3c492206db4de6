// Package stt provides speech-to-text functionality.
package stt

import (
	"context"
	"fmt"
)

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts raw PCM audio to text. An empty string with a
	// nil error means the audio carried no recognizable speech.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// TranscriptionError wraps a provider failure. The orchestrator treats it
// as recoverable: the turn is skipped and the call keeps listening.
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("%s transcription: %v", e.Provider, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
