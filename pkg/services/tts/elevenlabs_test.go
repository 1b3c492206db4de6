package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewElevenLabs_ConstructorsAndName(t *testing.T) {
	client := &http.Client{}
	p := NewElevenLabsWithClient("api-key", "voice-1", client)
	if p.httpClient != client {
		t.Fatal("expected custom http client to be set")
	}
	if p.Name() != "elevenlabs" {
		t.Fatalf("name = %q, want elevenlabs", p.Name())
	}

	defaultProvider := NewElevenLabs("api-key", "voice-1")
	if defaultProvider.httpClient == nil {
		t.Fatal("default provider should initialize http client")
	}
	if defaultProvider.ModelID == "" {
		t.Fatal("default provider should set a model")
	}
}

func TestElevenLabsSynthesize_RequestsPCM8000(t *testing.T) {
	audio := bytes.Repeat([]byte{0x10, 0x00}, 160)
	var gotPath, gotKey, gotFormat string
	var gotBody elevenLabsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotFormat = r.URL.Query().Get("output_format")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write(audio)
	}))
	defer srv.Close()

	p := NewElevenLabs("secret", "voice-7").WithBaseURL(srv.URL)
	pcm, err := p.Synthesize(context.Background(), "hello caller")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !bytes.Equal(pcm, audio) {
		t.Fatalf("pcm length = %d, want %d", len(pcm), len(audio))
	}
	if !strings.HasSuffix(gotPath, "/v1/text-to-speech/voice-7") {
		t.Fatalf("path = %q", gotPath)
	}
	if gotFormat != "pcm_8000" {
		t.Fatalf("output_format = %q, want pcm_8000", gotFormat)
	}
	if gotKey != "secret" {
		t.Fatalf("xi-api-key = %q", gotKey)
	}
	if gotBody.Text != "hello caller" {
		t.Fatalf("request text = %q", gotBody.Text)
	}
	if gotBody.ModelID != "eleven_turbo_v2_5" {
		t.Fatalf("model_id = %q", gotBody.ModelID)
	}
}

func TestElevenLabsSynthesize_HTTPErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p := NewElevenLabs("key", "voice").WithBaseURL(srv.URL)
	_, err := p.Synthesize(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error on 422")
	}
	var serr *SynthesisError
	if !errors.As(err, &serr) {
		t.Fatalf("error type = %T, want *SynthesisError", err)
	}
	if serr.Provider != "elevenlabs" {
		t.Fatalf("provider = %q", serr.Provider)
	}
}

func TestElevenLabsSynthesize_EmptyAudioIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewElevenLabs("key", "voice").WithBaseURL(srv.URL)
	_, err := p.Synthesize(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error for empty audio body")
	}
}
