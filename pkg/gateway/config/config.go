// Package config loads gateway settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Backing services.
	RedisURL    string
	PostgresDSN string // empty disables the Postgres finalizer

	// Provider credentials.
	DeepgramAPIKey    string
	GeminiAPIKey      string
	GeminiModel       string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	// Conversation tuning.
	Company         string
	TranscriptTail  int
	GenerateTimeout time.Duration
	SessionTTL      time.Duration
	EscalationDigit string

	// Audio pacing and detection.
	FrameDuration         time.Duration
	EnergyThreshold       float64
	MinUtterance          time.Duration
	TrailingSilenceFrames int
	MaxTurnBuffer         time.Duration
	BargeInFrames         int
	AbortCheckEvery       int
	FillerDelay           time.Duration
	FillerClipPath        string // raw PCM file, optional

	// Transport and server timeouts.
	WSWriteTimeout      time.Duration
	FinalizeTimeout     time.Duration
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("VOXLINE_ADDR", ":8080"),
		RedisURL:              envOr("VOXLINE_REDIS_URL", "redis://localhost:6379/0"),
		PostgresDSN:           envOr("VOXLINE_POSTGRES_DSN", ""),
		DeepgramAPIKey:        envOr("VOXLINE_DEEPGRAM_API_KEY", ""),
		GeminiAPIKey:          envOr("VOXLINE_GEMINI_API_KEY", ""),
		GeminiModel:           envOr("VOXLINE_GEMINI_MODEL", "gemini-2.0-flash"),
		ElevenLabsAPIKey:      envOr("VOXLINE_ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     envOr("VOXLINE_ELEVENLABS_VOICE_ID", ""),
		Company:               envOr("VOXLINE_COMPANY", "Voxline Realty"),
		TranscriptTail:        envIntOr("VOXLINE_TRANSCRIPT_TAIL", 8),
		GenerateTimeout:       envDurationOr("VOXLINE_GENERATE_TIMEOUT", 8*time.Second),
		SessionTTL:            envDurationOr("VOXLINE_SESSION_TTL", time.Hour),
		EscalationDigit:       envOr("VOXLINE_ESCALATION_DIGIT", "0"),
		FrameDuration:         envDurationOr("VOXLINE_FRAME_MS", 20*time.Millisecond),
		EnergyThreshold:       envFloat64Or("VOXLINE_ENERGY_THRESHOLD", 0.015),
		MinUtterance:          envDurationOr("VOXLINE_MIN_UTTERANCE_MS", 500*time.Millisecond),
		TrailingSilenceFrames: envIntOr("VOXLINE_SILENCE_FRAMES", 10),
		MaxTurnBuffer:         envDurationOr("VOXLINE_MAX_TURN_BUFFER", 30*time.Second),
		BargeInFrames:         envIntOr("VOXLINE_BARGE_IN_FRAMES", 3),
		AbortCheckEvery:       envIntOr("VOXLINE_ABORT_CHECK_FRAMES", 3),
		FillerDelay:           envDurationOr("VOXLINE_FILLER_DELAY", 300*time.Millisecond),
		FillerClipPath:        envOr("VOXLINE_FILLER_CLIP", ""),
		WSWriteTimeout:        envDurationOr("VOXLINE_WS_WRITE_TIMEOUT", 5*time.Second),
		FinalizeTimeout:       envDurationOr("VOXLINE_FINALIZE_TIMEOUT", 10*time.Second),
		ReadHeaderTimeout:     envDurationOr("VOXLINE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:   envDurationOr("VOXLINE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("VOXLINE_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return Config{}, fmt.Errorf("VOXLINE_REDIS_URL must not be empty")
	}
	if cfg.TranscriptTail <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_TRANSCRIPT_TAIL must be > 0")
	}
	if cfg.GenerateTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_GENERATE_TIMEOUT must be > 0")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_SESSION_TTL must be > 0")
	}
	if len(cfg.EscalationDigit) != 1 || cfg.EscalationDigit[0] < '0' || cfg.EscalationDigit[0] > '9' {
		return Config{}, fmt.Errorf("VOXLINE_ESCALATION_DIGIT must be a single digit")
	}
	if cfg.FrameDuration <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_FRAME_MS must be > 0")
	}
	if cfg.EnergyThreshold <= 0 || cfg.EnergyThreshold >= 1 {
		return Config{}, fmt.Errorf("VOXLINE_ENERGY_THRESHOLD must be in (0, 1)")
	}
	if cfg.MinUtterance <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_MIN_UTTERANCE_MS must be > 0")
	}
	if cfg.TrailingSilenceFrames <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_SILENCE_FRAMES must be > 0")
	}
	if cfg.MaxTurnBuffer < cfg.MinUtterance {
		return Config{}, fmt.Errorf("VOXLINE_MAX_TURN_BUFFER must be >= VOXLINE_MIN_UTTERANCE_MS")
	}
	if cfg.BargeInFrames <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_BARGE_IN_FRAMES must be > 0")
	}
	if cfg.BargeInFrames >= cfg.TrailingSilenceFrames {
		// Interruption must confirm faster than a turn ends.
		return Config{}, fmt.Errorf("VOXLINE_BARGE_IN_FRAMES must be < VOXLINE_SILENCE_FRAMES")
	}
	if cfg.AbortCheckEvery <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_ABORT_CHECK_FRAMES must be > 0")
	}
	if cfg.FillerDelay < 0 {
		return Config{}, fmt.Errorf("VOXLINE_FILLER_DELAY must be >= 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.FinalizeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_FINALIZE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXLINE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil {
		// Bare numbers are milliseconds.
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
