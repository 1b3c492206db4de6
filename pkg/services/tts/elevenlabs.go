package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const elevenLabsDefaultBaseURL = "https://api.elevenlabs.io"

// ElevenLabsProvider synthesizes speech through ElevenLabs, requesting
// pcm_8000 output so the audio goes to the wire without resampling.
type ElevenLabsProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string

	VoiceID string
	ModelID string // default "eleven_turbo_v2_5"
}

// NewElevenLabs creates an ElevenLabs TTS provider.
func NewElevenLabs(apiKey, voiceID string) *ElevenLabsProvider {
	return NewElevenLabsWithClient(apiKey, voiceID, nil)
}

// NewElevenLabsWithClient creates an ElevenLabs TTS provider with a custom
// HTTP client.
func NewElevenLabsWithClient(apiKey, voiceID string, client *http.Client) *ElevenLabsProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &ElevenLabsProvider{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: client,
		baseURL:    elevenLabsDefaultBaseURL,
		VoiceID:    strings.TrimSpace(voiceID),
		ModelID:    "eleven_turbo_v2_5",
	}
}

// WithBaseURL overrides the API base URL, mainly for tests.
func (e *ElevenLabsProvider) WithBaseURL(base string) *ElevenLabsProvider {
	base = strings.TrimSpace(base)
	if base != "" {
		e.baseURL = strings.TrimRight(base, "/")
	}
	return e
}

// Name returns the provider identifier.
func (e *ElevenLabsProvider) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings elevenLabsSettings `json:"voice_settings"`
}

type elevenLabsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to 8 kHz 16-bit mono PCM.
func (e *ElevenLabsProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: e.ModelID,
		VoiceSettings: elevenLabsSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, &SynthesisError{Provider: e.Name(), Err: err}
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_8000", e.baseURL, e.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &SynthesisError{Provider: e.Name(), Err: err}
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/raw")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &SynthesisError{Provider: e.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &SynthesisError{
			Provider: e.Name(),
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Provider: e.Name(), Err: err}
	}
	if len(pcm) == 0 {
		return nil, &SynthesisError{Provider: e.Name(), Err: fmt.Errorf("empty audio")}
	}
	return pcm, nil
}
