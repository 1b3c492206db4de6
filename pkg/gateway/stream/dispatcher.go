package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxline-ai/voxline/pkg/core/audio"
	"github.com/voxline-ai/voxline/pkg/core/call"
	"github.com/voxline-ai/voxline/pkg/core/convo"
	"github.com/voxline-ai/voxline/pkg/core/turn"
	"github.com/voxline-ai/voxline/pkg/services/llm"
	"github.com/voxline-ai/voxline/pkg/services/stt"
	"github.com/voxline-ai/voxline/pkg/services/tts"
	"github.com/voxline-ai/voxline/pkg/store"
)

// Conn is the subset of *websocket.Conn the dispatcher uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conversation is the per-call orchestration surface. convo.Orchestrator
// implements it.
type Conversation interface {
	SpeakOpening(ctx context.Context, sess *call.Session) error
	HandleUtterance(ctx context.Context, sess *call.Session, pcm []byte) bool
	Escalate(ctx context.Context, sess *call.Session)
}

// Config tunes one dispatcher.
type Config struct {
	Audio           audio.Config
	Turn            turn.Config
	BargeIn         turn.BargeInConfig
	Convo           convo.Config
	Responder       ResponderConfig
	EscalationDigit string
	SessionTTL      time.Duration
	WriteTimeout    time.Duration
	FinalizeTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Audio:           audio.DefaultConfig(),
		Turn:            turn.DefaultConfig(),
		BargeIn:         turn.DefaultBargeInConfig(),
		Convo:           convo.DefaultConfig(),
		Responder:       DefaultResponderConfig(),
		EscalationDigit: "0",
		SessionTTL:      time.Hour,
		WriteTimeout:    5 * time.Second,
		FinalizeTimeout: 10 * time.Second,
	}
}

// Dependencies are the shared collaborators behind all calls.
type Dependencies struct {
	STT       stt.Provider
	LLM       llm.Provider
	TTS       tts.Provider
	Store     store.Store
	Finalizer store.Finalizer
	Logger    *slog.Logger

	// NewConversation overrides orchestrator construction. Tests use it;
	// production leaves it nil.
	NewConversation func(spk convo.Speaker) Conversation
}

// Dispatcher accepts telephony websocket connections and runs one event
// loop per call.
type Dispatcher struct {
	cfg  Config
	deps Dependencies
}

// NewDispatcher builds a dispatcher. Logger defaults to slog.Default.
func NewDispatcher(cfg Config, deps Dependencies) *Dispatcher {
	if cfg.EscalationDigit == "" {
		cfg.EscalationDigit = "0"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg, deps: deps}
}

func (d *Dispatcher) conversation(spk convo.Speaker) Conversation {
	if d.deps.NewConversation != nil {
		return d.deps.NewConversation(spk)
	}
	return convo.New(d.cfg.Convo, convo.Dependencies{
		STT:     d.deps.STT,
		LLM:     d.deps.LLM,
		Speaker: spk,
		Store:   d.deps.Store,
		Logger:  d.deps.Logger,
	})
}

// mediaWriter serializes outbound media frames onto one connection.
type mediaWriter struct {
	mu        sync.Mutex
	conn      Conn
	streamSID string
	timeout   time.Duration
}

func (w *mediaWriter) WriteFrame(pcm []byte) error {
	raw, err := EncodeMediaEvent(w.streamSID, pcm)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	return w.conn.WriteMessage(websocket.TextMessage, raw)
}

// HandleConn runs the event loop for one connection until the transport
// closes or the call ends. Finalization happens exactly once no matter
// which trigger fires first.
func (d *Dispatcher) HandleConn(ctx context.Context, conn Conn) {
	ctx, cancel := context.WithCancel(ctx)

	logger := d.deps.Logger

	var (
		sess     *call.Session
		conv     Conversation
		detector = turn.NewDetector(d.cfg.Turn, d.cfg.Audio)
		barge    = turn.NewBargeIn(d.cfg.BargeIn)

		finalizeOnce sync.Once
		turnBusy     atomic.Bool
		wg           sync.WaitGroup
	)

	// finalize persists final state exactly once and releases the live
	// session. Uses its own context so a dropped transport cannot cancel
	// persistence.
	finalize := func(reason string) {
		finalizeOnce.Do(func() {
			if sess == nil {
				return
			}
			sess.SetOutcome(call.OutcomeDisconnected)
			fctx, fcancel := context.WithTimeout(context.Background(), d.cfg.FinalizeTimeout)
			defer fcancel()
			if err := d.deps.Finalizer.PersistFinal(fctx, sess); err != nil {
				logger.Error("final persist failed",
					"call_sid", sess.CallID, "error", err)
			}
			if err := d.deps.Store.Delete(fctx, sess.CallID); err != nil {
				logger.Warn("session delete failed",
					"call_sid", sess.CallID, "error", err)
			}
			logger.Info("call finalized",
				"call_sid", sess.CallID,
				"reason", reason,
				"outcome", sess.FinalOutcome(call.OutcomeDisconnected))
		})
	}

	// Exit order: cancel in-flight playback, close the transport, drain
	// goroutines, then finalize over the completed transcript.
	defer finalize("disconnect")
	defer wg.Wait()
	defer conn.Close()
	defer cancel()

	endCall := func(reason string) {
		finalize(reason)
		cancel()
		_ = conn.Close()
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := DecodeEvent(raw)
		if err != nil {
			logger.Warn("dropping bad frame", "error", err)
			continue
		}

		switch ev.Event {
		case EventConnected:
			logger.Debug("transport connected")

		case EventStart:
			if sess != nil {
				logger.Warn("duplicate start ignored", "call_sid", sess.CallID)
				continue
			}
			start := ev.Start
			callID := start.CallSID
			if callID == "" {
				callID = uuid.NewString()
			}
			sess = call.NewSession(callID, start.From, LeadFromParameters(start.CustomParameters, start.From))
			streamSID := start.StreamSID
			if streamSID == "" {
				streamSID = ev.StreamSID
			}
			writer := &mediaWriter{conn: conn, streamSID: streamSID, timeout: d.cfg.WriteTimeout}
			conv = d.conversation(NewResponder(d.cfg.Responder, writer, d.deps.TTS, logger))

			if err := d.deps.Store.Put(ctx, sess, d.cfg.SessionTTL); err != nil {
				logger.Warn("initial persist failed", "call_sid", callID, "error", err)
			}
			logger.Info("call started", "call_sid", callID,
				"from", start.From, "lead", sess.Lead.Name)

			// The read loop must keep draining during the greeting so
			// barge-in works from the first word.
			wg.Add(1)
			go func(c Conversation, s *call.Session) {
				defer wg.Done()
				if err := c.SpeakOpening(ctx, s); err != nil {
					logger.Warn("opening playback failed",
						"call_sid", s.CallID, "error", err)
				}
			}(conv, sess)

		case EventMedia:
			if sess == nil {
				continue
			}
			pcm, err := audio.DecodePayload(ev.Media.Payload)
			if err != nil {
				logger.Warn("dropping undecodable media frame",
					"call_sid", sess.CallID, "error", err)
				continue
			}

			if sess.IsAgentSpeaking() {
				if barge.Feed(pcm) {
					sess.RequestAbort()
					barge.Reset()
					logger.Info("barge-in detected", "call_sid", sess.CallID)
				}
			} else {
				barge.Reset()
			}

			if detector.Feed(pcm) && turnBusy.CompareAndSwap(false, true) {
				utt := detector.Take()
				if utt == nil {
					turnBusy.Store(false)
					continue
				}
				wg.Add(1)
				go func(c Conversation, s *call.Session, pcm []byte) {
					defer wg.Done()
					defer turnBusy.Store(false)
					if c.HandleUtterance(ctx, s, pcm) {
						endCall("agent_end")
					}
				}(conv, sess, utt.PCM)
			}

		case EventDTMF:
			if sess == nil {
				continue
			}
			digit := ev.DTMF.Digit
			logger.Info("dtmf received", "call_sid", sess.CallID, "digit", digit)
			if digit == d.cfg.EscalationDigit {
				wg.Add(1)
				go func(c Conversation, s *call.Session) {
					defer wg.Done()
					c.Escalate(ctx, s)
					endCall("escalated")
				}(conv, sess)
			}

		case EventClear:
			if sess == nil {
				continue
			}
			logger.Info("conversation reset", "call_sid", sess.CallID)
			sess.Reset()
			detector.Discard()
			barge.Reset()
			wg.Add(1)
			go func(c Conversation, s *call.Session) {
				defer wg.Done()
				if err := c.SpeakOpening(ctx, s); err != nil {
					logger.Warn("opening playback failed",
						"call_sid", s.CallID, "error", err)
				}
			}(conv, sess)

		case EventMark:
			// Playback marks are informational.

		case EventStop:
			finalize("stop")
			return
		}
	}
}
