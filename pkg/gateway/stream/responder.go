package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxline-ai/voxline/pkg/core/audio"
	"github.com/voxline-ai/voxline/pkg/core/call"
	"github.com/voxline-ai/voxline/pkg/services/tts"
)

// FrameWriter sends one PCM frame to the transport.
type FrameWriter interface {
	WriteFrame(pcm []byte) error
}

// ResponderConfig tunes playback pacing and fallbacks.
type ResponderConfig struct {
	// Audio is the wire audio shape.
	Audio audio.Config

	// FrameDuration is the outbound frame size.
	FrameDuration time.Duration

	// AbortCheckEvery is how many frames go out between barge-in flag
	// checks. Must be small enough that an abort lands within ~100 ms.
	AbortCheckEvery int

	// FillerDelay is how long synthesis may run before the filler clip
	// starts. Zero disables the synthesis-side filler.
	FillerDelay time.Duration

	// FillerPCM is a short pre-rendered clip played to mask latency.
	// Empty means no filler.
	FillerPCM []byte

	// FallbackToneDuration sizes the generated tone used when synthesis
	// fails.
	FallbackToneDuration time.Duration
}

// DefaultResponderConfig returns production defaults.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		Audio:                audio.DefaultConfig(),
		FrameDuration:        20 * time.Millisecond,
		AbortCheckEvery:      3,
		FallbackToneDuration: 250 * time.Millisecond,
	}
}

// Responder streams synthesized speech as paced fixed-size frames while
// watching the session's abort flag for barge-in. It implements
// convo.Speaker.
type Responder struct {
	cfg    ResponderConfig
	writer FrameWriter
	ttsc   tts.Provider
	logger *slog.Logger
}

// NewResponder builds a responder for one connection's writer.
func NewResponder(cfg ResponderConfig, writer FrameWriter, ttsc tts.Provider, logger *slog.Logger) *Responder {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	if cfg.AbortCheckEvery <= 0 {
		cfg.AbortCheckEvery = 3
	}
	if cfg.FallbackToneDuration <= 0 {
		cfg.FallbackToneDuration = 250 * time.Millisecond
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = audio.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{cfg: cfg, writer: writer, ttsc: ttsc, logger: logger}
}

// Speak synthesizes the text and streams it at real-time pace. Synthesis
// failure degrades to a short tone, never dead air. Returns once playback
// finishes, is aborted by barge-in, or the transport write fails.
func (r *Responder) Speak(ctx context.Context, sess *call.Session, text string) error {
	if len(r.cfg.FillerPCM) > 0 && r.cfg.FillerDelay > 0 {
		filler := time.AfterFunc(r.cfg.FillerDelay, func() {
			r.PlayFiller(ctx, sess)
		})
		defer filler.Stop()
	}

	pcm, err := r.ttsc.Synthesize(ctx, text)
	if err != nil {
		r.logger.Warn("synthesis failed, playing fallback tone",
			"call_sid", sess.CallID, "error", err)
		pcm = audio.Tone(r.cfg.Audio, 440, r.cfg.FallbackToneDuration, 0.3)
	}

	sess.SetAgentSpeaking(true)
	defer sess.SetAgentSpeaking(false)

	return r.stream(ctx, sess, pcm, true)
}

// PlayFiller streams the pre-rendered filler clip. Best effort: it never
// returns an error and stops as soon as the real reply starts playing.
func (r *Responder) PlayFiller(ctx context.Context, sess *call.Session) {
	if len(r.cfg.FillerPCM) == 0 {
		return
	}
	if sess.IsAgentSpeaking() {
		return
	}
	if err := r.stream(ctx, sess, r.cfg.FillerPCM, false); err != nil {
		r.logger.Debug("filler playback stopped", "call_sid", sess.CallID, "error", err)
	}
}

// stream paces frames onto the wire. When asSpeech is set, the session's
// abort flag is honored; filler playback instead yields to real speech.
func (r *Responder) stream(ctx context.Context, sess *call.Session, pcm []byte, asSpeech bool) error {
	frames := audio.Frames(r.cfg.Audio, pcm, r.cfg.FrameDuration)
	if len(frames) == 0 {
		return nil
	}

	ticker := time.NewTicker(r.cfg.FrameDuration)
	defer ticker.Stop()

	for i, frame := range frames {
		if asSpeech {
			if i%r.cfg.AbortCheckEvery == 0 && sess.AbortRequested() {
				sess.ClearAbort()
				r.logger.Info("playback aborted by barge-in",
					"call_sid", sess.CallID, "frames_sent", i)
				return nil
			}
		} else if sess.IsAgentSpeaking() {
			// The real reply arrived mid-filler.
			return nil
		}

		if err := r.writer.WriteFrame(frame); err != nil {
			// A stalled outbound path aborts the turn rather than
			// buffering unbounded audio.
			return err
		}

		if i == len(frames)-1 {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
