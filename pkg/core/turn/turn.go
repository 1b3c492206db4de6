// Package turn implements energy-based voice activity detection for the
// inbound audio stream: utterance segmentation while listening, and fast
// barge-in detection while the agent is speaking.
package turn

import (
	"sync"
	"time"

	"github.com/voxline-ai/voxline/pkg/core/audio"
)

// Config tunes utterance segmentation.
type Config struct {
	// EnergyThreshold is the normalized RMS level above which a frame is
	// classified as voiced. Range 0.0 to 1.0.
	EnergyThreshold float64 `json:"energy_threshold"`

	// MinUtterance is the minimum accumulated audio before a turn can
	// complete.
	MinUtterance time.Duration `json:"min_utterance"`

	// TrailingSilenceFrames is the run of consecutive silent frames that
	// ends an utterance once MinUtterance is buffered.
	TrailingSilenceFrames int `json:"trailing_silence_frames"`

	// MaxBuffer caps the accumulated audio; beyond it the oldest audio is
	// dropped so a caller who never pauses cannot grow the buffer
	// unbounded.
	MaxBuffer time.Duration `json:"max_buffer"`
}

// DefaultConfig returns segmentation settings tuned for 8 kHz telephony
// frames of roughly 20-60 ms.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold:       0.015,
		MinUtterance:          500 * time.Millisecond,
		TrailingSilenceFrames: 10,
		MaxBuffer:             30 * time.Second,
	}
}

// Utterance is a completed run of speech handed to the orchestrator.
type Utterance struct {
	PCM      []byte
	Duration time.Duration
}

// Detector accumulates inbound frames and signals utterance completion.
// A frame is voiced when its RMS energy exceeds the threshold. Leading
// silence before any speech is ignored; once speech starts, voiced frames
// reset the silence run and silent frames extend it while still being
// buffered, so trailing silence is captured up to the cutoff. The utterance
// completes when the buffer holds at least MinUtterance of audio and the
// silence run reaches TrailingSilenceFrames.
type Detector struct {
	cfg      Config
	audioCfg audio.Config

	mu         sync.Mutex
	buf        []byte
	started    bool
	silenceRun int
	minBytes   int
	maxBytes   int
}

// NewDetector creates a turn detector.
func NewDetector(cfg Config, audioCfg audio.Config) *Detector {
	return &Detector{
		cfg:      cfg,
		audioCfg: audioCfg,
		minBytes: audioCfg.BytesForDuration(cfg.MinUtterance),
		maxBytes: audioCfg.BytesForDuration(cfg.MaxBuffer),
	}
}

// Feed processes one inbound frame and reports whether a completed
// utterance is ready to take. Readiness is level-state: trailing silent
// frames fed before Take still join the utterance, and a voiced frame
// reopens the turn.
func (d *Detector) Feed(frame []byte) bool {
	if len(frame) == 0 {
		return d.Ready()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	voiced := audio.RMSEnergy(frame) > d.cfg.EnergyThreshold
	if !d.started {
		// Leading silence is not part of any turn.
		if !voiced {
			return d.ready()
		}
		d.started = true
	}

	if voiced {
		d.silenceRun = 0
	} else {
		d.silenceRun++
	}

	d.buf = append(d.buf, frame...)
	if d.maxBytes > 0 && len(d.buf) > d.maxBytes {
		d.buf = d.buf[len(d.buf)-d.maxBytes:]
	}

	return d.ready()
}

// Ready reports whether the buffered turn satisfies both completion
// conditions: accumulated duration at or above the minimum and a trailing
// silent run at or above the threshold.
func (d *Detector) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready()
}

func (d *Detector) ready() bool {
	return len(d.buf) >= d.minBytes && d.silenceRun >= d.cfg.TrailingSilenceFrames
}

// Take hands off the completed utterance and clears the buffer. It returns
// nil when no utterance is ready; a buffer that never reached the minimum
// duration is left for Discard, never transcribed.
func (d *Detector) Take() *Utterance {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ready() {
		return nil
	}
	u := &Utterance{
		PCM:      d.buf,
		Duration: d.audioCfg.Duration(len(d.buf)),
	}
	d.buf = nil
	d.started = false
	d.silenceRun = 0
	return u
}

// BufferedDuration returns how much audio is currently accumulated.
func (d *Detector) BufferedDuration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audioCfg.Duration(len(d.buf))
}

// Discard drops the accumulated buffer. Audio that never reached the
// minimum utterance length by call end is discarded, never transcribed.
func (d *Detector) Discard() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = nil
	d.started = false
	d.silenceRun = 0
}
