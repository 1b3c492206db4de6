package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const deepgramDefaultBaseURL = "https://api.deepgram.com"

// DeepgramProvider transcribes telephony PCM through Deepgram's
// pre-recorded endpoint.
type DeepgramProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string

	Model         string  // default "nova-2"
	Language      string  // default "en"
	SampleRate    int     // default 8000
	MinConfidence float64 // transcripts below this are treated as no speech
}

// NewDeepgram creates a Deepgram STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return NewDeepgramWithClient(apiKey, nil)
}

// NewDeepgramWithClient creates a Deepgram STT provider with a custom HTTP
// client.
func NewDeepgramWithClient(apiKey string, client *http.Client) *DeepgramProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &DeepgramProvider{
		apiKey:        strings.TrimSpace(apiKey),
		httpClient:    client,
		baseURL:       deepgramDefaultBaseURL,
		Model:         "nova-2",
		Language:      "en",
		SampleRate:    8000,
		MinConfidence: 0.4,
	}
}

// WithBaseURL overrides the API base URL, mainly for tests.
func (d *DeepgramProvider) WithBaseURL(base string) *DeepgramProvider {
	base = strings.TrimSpace(base)
	if base != "" {
		d.baseURL = strings.TrimRight(base, "/")
	}
	return d
}

// Name returns the provider identifier.
func (d *DeepgramProvider) Name() string { return "deepgram" }

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe sends raw linear PCM to Deepgram and returns the top
// alternative. Low-confidence results come back as an empty transcript.
func (d *DeepgramProvider) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	q := url.Values{}
	q.Set("model", d.Model)
	q.Set("language", d.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.SampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")

	endpoint := d.baseURL + "/v1/listen?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(pcm))
	if err != nil {
		return "", &TranscriptionError{Provider: d.Name(), Err: err}
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/raw")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", &TranscriptionError{Provider: d.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TranscriptionError{Provider: d.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &TranscriptionError{
			Provider: d.Name(),
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var parsed deepgramResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &TranscriptionError{Provider: d.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	alt := parsed.Results.Channels[0].Alternatives[0]
	if alt.Confidence < d.MinConfidence {
		return "", nil
	}
	return strings.TrimSpace(alt.Transcript), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
