// Package convo drives one conversational turn: transcribe the caller's
// utterance, ask the language model for the next move, update session
// state, persist it and hand the reply to the speaker.
package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/voxline-ai/voxline/pkg/core/call"
	"github.com/voxline-ai/voxline/pkg/services/llm"
	"github.com/voxline-ai/voxline/pkg/services/stt"
	"github.com/voxline-ai/voxline/pkg/store"
)

// Speaker plays synthesized replies to the remote party. The streaming
// responder implements it.
type Speaker interface {
	// Speak synthesizes and streams the reply, returning after playback
	// finishes or is aborted by barge-in.
	Speak(ctx context.Context, sess *call.Session, text string) error

	// PlayFiller plays a short latency-masking clip. Best effort.
	PlayFiller(ctx context.Context, sess *call.Session)
}

// Config tunes the orchestrator.
type Config struct {
	// Company is the name the agent introduces itself with.
	Company string

	// TranscriptTail bounds how many transcript entries the model sees.
	TranscriptTail int

	// GenerateTimeout is the hard ceiling on one model call. Exceeding it
	// falls back to the default reply instead of hanging the turn.
	GenerateTimeout time.Duration

	// FillerDelay is how long to wait for a reply before playing filler.
	FillerDelay time.Duration

	// SessionTTL is the store expiry refreshed on every persist.
	SessionTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Company:         "Voxline Realty",
		TranscriptTail:  8,
		GenerateTimeout: 8 * time.Second,
		FillerDelay:     300 * time.Millisecond,
		SessionTTL:      time.Hour,
	}
}

// Dependencies are the collaborators the orchestrator drives.
type Dependencies struct {
	STT     stt.Provider
	LLM     llm.Provider
	Speaker Speaker
	Store   store.Store
	Logger  *slog.Logger
}

// Orchestrator is the per-call conversation state machine. One instance
// serves all calls; per-call state lives in the Session.
type Orchestrator struct {
	cfg     Config
	sttc    stt.Provider
	llmc    llm.Provider
	speaker Speaker
	store   store.Store
	logger  *slog.Logger
}

// Lines spoken outside the model loop.
const (
	clarificationLine = "Sorry, I didn't catch that. Could you say that again?"
	fallbackReply     = "I'm sorry, I'm having a little trouble on my end. Could you repeat that?"
	escalationLine    = "Of course, let me connect you with one of our senior advisors. Please hold."
	closingLine       = "Thanks for your time. Have a great day!"
)

// New creates an orchestrator. Logger defaults to slog.Default.
func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.TranscriptTail <= 0 {
		cfg.TranscriptTail = 8
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 8 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		sttc:    deps.STT,
		llmc:    deps.LLM,
		speaker: deps.Speaker,
		store:   deps.Store,
		logger:  logger,
	}
}

// OpeningLine builds the greeting for a new call.
func (o *Orchestrator) OpeningLine(lead call.LeadContext) string {
	name := strings.TrimSpace(lead.Name)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		"Hi %s, this is Alex from %s. I'm calling about your recent property enquiry. Do you have a quick minute?",
		name, o.cfg.Company,
	)
}

// SpeakOpening records and plays the greeting for a freshly started call.
func (o *Orchestrator) SpeakOpening(ctx context.Context, sess *call.Session) error {
	line := o.OpeningLine(sess.Lead)
	sess.Append(call.SpeakerAgent, line)
	o.persist(ctx, sess)
	return o.speaker.Speak(ctx, sess, line)
}

// HandleUtterance runs one full turn for a completed utterance. It returns
// true when the call should end after playback. Errors never escape the
// turn boundary; every failure degrades to a spoken fallback or a skipped
// turn.
func (o *Orchestrator) HandleUtterance(ctx context.Context, sess *call.Session, pcm []byte) bool {
	text, err := o.sttc.Transcribe(ctx, pcm)
	if err != nil {
		o.logger.Warn("transcription failed, skipping turn",
			"call_sid", sess.CallID, "error", err)
		return false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// Audio passed the energy gate but carried no words.
		if err := o.speaker.Speak(ctx, sess, clarificationLine); err != nil {
			o.logger.Warn("clarification playback failed",
				"call_sid", sess.CallID, "error", err)
		}
		return false
	}

	sess.Append(call.SpeakerRemote, text)
	o.persist(ctx, sess)
	o.logger.Info("caller said", "call_sid", sess.CallID, "text", text,
		"stage", sess.CurrentStage())

	result := o.generate(ctx, sess)

	stage := sess.AdvanceStage(call.Stage(result.NextStage))
	sess.MergeFields(result.ExtractedFields)
	sess.Append(call.SpeakerAgent, result.ReplyText)
	o.persist(ctx, sess)

	o.logger.Info("agent reply", "call_sid", sess.CallID,
		"stage", stage, "intent", result.Intent,
		"end_call", result.ShouldEndCall)

	if err := o.speaker.Speak(ctx, sess, result.ReplyText); err != nil {
		o.logger.Warn("reply playback failed",
			"call_sid", sess.CallID, "error", err)
	}

	if result.ShouldEndCall || stage.Terminal() {
		sess.SetOutcome(classifyOutcome(result.Intent))
		return true
	}
	return false
}

// Escalate speaks the human-handoff line and marks the call escalated.
// The dispatcher ends the call afterwards.
func (o *Orchestrator) Escalate(ctx context.Context, sess *call.Session) {
	sess.RequestEscalation()
	sess.SetOutcome(call.OutcomeEscalated)
	sess.Append(call.SpeakerAgent, escalationLine)
	o.persist(ctx, sess)
	if err := o.speaker.Speak(ctx, sess, escalationLine); err != nil {
		o.logger.Warn("escalation playback failed",
			"call_sid", sess.CallID, "error", err)
	}
}

// generate asks the model for the next turn, masking latency with filler
// audio and degrading to a fixed reply on persistent failure.
func (o *Orchestrator) generate(ctx context.Context, sess *call.Session) *llm.Result {
	req := llm.Request{
		Transcript: sess.Tail(o.cfg.TranscriptTail),
		Lead:       sess.Lead,
		Collected:  sess.Fields(),
		Stage:      sess.CurrentStage(),
	}

	var filler *time.Timer
	if o.cfg.FillerDelay > 0 {
		filler = time.AfterFunc(o.cfg.FillerDelay, func() {
			o.speaker.PlayFiller(ctx, sess)
		})
		defer filler.Stop()
	}

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()

	var result *llm.Result
	err := retry.Do(genCtx, retry.WithMaxRetries(1, retry.NewConstant(200*time.Millisecond)),
		func(ctx context.Context) error {
			r, gerr := o.llmc.Generate(ctx, req)
			if gerr != nil {
				return retry.RetryableError(gerr)
			}
			result = r
			return nil
		})
	if err != nil {
		o.logger.Warn("generation failed, using fallback reply",
			"call_sid", sess.CallID, "error", err)
		return &llm.Result{
			Intent:          "fallback",
			NextStage:       string(sess.CurrentStage()),
			ReplyText:       fallbackReply,
			ExtractedFields: map[string]any{},
		}
	}
	return result
}

func (o *Orchestrator) persist(ctx context.Context, sess *call.Session) {
	if err := o.store.Put(ctx, sess, o.cfg.SessionTTL); err != nil {
		// Keep going with in-memory state; the next persist retries.
		o.logger.Warn("session persist failed",
			"call_sid", sess.CallID, "error", err)
	}
}

// classifyOutcome maps the model's final intent to a terminal outcome.
func classifyOutcome(intent string) call.Outcome {
	switch strings.ToLower(strings.TrimSpace(intent)) {
	case "not_interested", "decline":
		return call.OutcomeNotInterested
	case "ready_to_visit", "schedule_visit", "schedule", "qualified":
		return call.OutcomeQualified
	default:
		return call.OutcomeCallbackRequested
	}
}

// ClosingLine is the sign-off spoken when the model ends the call without
// supplying its own goodbye.
func ClosingLine() string { return closingLine }
