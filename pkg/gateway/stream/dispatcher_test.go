package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxline-ai/voxline/pkg/core/audio"
	"github.com/voxline-ai/voxline/pkg/core/call"
	"github.com/voxline-ai/voxline/pkg/core/convo"
	"github.com/voxline-ai/voxline/pkg/core/turn"
	"github.com/voxline-ai/voxline/pkg/store"
)

// scriptConn feeds a scripted inbound message sequence to the dispatcher.
type scriptConn struct {
	mu      sync.Mutex
	inbound chan []byte
	writes  [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *scriptConn) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-c.inbound:
		if !ok {
			return 0, nil, errors.New("connection dropped")
		}
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *scriptConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *scriptConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *scriptConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptConn) send(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	c.inbound <- raw
}

func (c *scriptConn) drop() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// fakeConversation records orchestrator calls.
type fakeConversation struct {
	mu         sync.Mutex
	openings   int
	utterances [][]byte
	escalated  bool

	endAfterUtterance bool
	onOpening         func(sess *call.Session)
	utteranceSeen     chan struct{}
}

func (f *fakeConversation) SpeakOpening(ctx context.Context, sess *call.Session) error {
	f.mu.Lock()
	f.openings++
	f.mu.Unlock()
	if f.onOpening != nil {
		f.onOpening(sess)
	}
	return nil
}

func (f *fakeConversation) HandleUtterance(ctx context.Context, sess *call.Session, pcm []byte) bool {
	f.mu.Lock()
	f.utterances = append(f.utterances, pcm)
	f.mu.Unlock()
	if f.utteranceSeen != nil {
		f.utteranceSeen <- struct{}{}
	}
	return f.endAfterUtterance
}

func (f *fakeConversation) Escalate(ctx context.Context, sess *call.Session) {
	f.mu.Lock()
	f.escalated = true
	f.mu.Unlock()
}

func (f *fakeConversation) openingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openings
}

func (f *fakeConversation) utteranceSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.utterances))
	for i, u := range f.utterances {
		sizes[i] = len(u)
	}
	return sizes
}

func (f *fakeConversation) wasEscalated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.escalated
}

type countingFinalizer struct {
	calls atomic.Int32
	last  atomic.Value // call.Outcome
}

func (f *countingFinalizer) PersistFinal(ctx context.Context, sess *call.Session) error {
	f.calls.Add(1)
	f.last.Store(sess.FinalOutcome(call.OutcomeDisconnected))
	return nil
}

func testDispatcherConfig() Config {
	cfg := DefaultConfig()
	cfg.Turn = turn.Config{
		EnergyThreshold:       0.015,
		MinUtterance:          40 * time.Millisecond,
		TrailingSilenceFrames: 2,
		MaxBuffer:             30 * time.Second,
	}
	cfg.Responder.FrameDuration = time.Millisecond
	return cfg
}

func newTestDispatcher(cfg Config, conv *fakeConversation, fin store.Finalizer) *Dispatcher {
	if fin == nil {
		fin = &countingFinalizer{}
	}
	return NewDispatcher(cfg, Dependencies{
		Store:     store.NewMemoryStore(),
		Finalizer: fin,
		NewConversation: func(spk convo.Speaker) Conversation {
			return conv
		},
	})
}

func startEvent() Event {
	return Event{
		Event: EventStart,
		Start: &StartPayload{
			StreamSID:  "ST1",
			CallSID:    "CA1",
			From:       "+15550100",
			CustomParameters: map[string]string{
				"name": "Priya",
			},
		},
	}
}

func mediaEvent(pcm []byte) Event {
	return Event{
		Event: EventMedia,
		Media: &MediaPayload{Payload: audio.EncodePayload(pcm)},
	}
}

// wireFrame returns one 20 ms frame of the given amplitude.
func wireFrame(amplitude int16) []byte {
	frame := make([]byte, 320)
	for i := 0; i < len(frame); i += 2 {
		sample := amplitude
		if i%4 == 2 {
			sample = -amplitude
		}
		frame[i] = byte(uint16(sample))
		frame[i+1] = byte(uint16(sample) >> 8)
	}
	return frame
}

func runDispatcher(d *Dispatcher, conn *scriptConn) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.HandleConn(context.Background(), conn)
	}()
	return done
}

func TestHandleConn_FinalizesExactlyOnceOnStopThenDisconnect(t *testing.T) {
	conv := &fakeConversation{}
	fin := &countingFinalizer{}
	d := newTestDispatcher(testDispatcherConfig(), conv, fin)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, Event{Event: EventConnected})
	conn.send(t, startEvent())
	conn.send(t, Event{Event: EventStop})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not exit after stop")
	}
	// The deferred disconnect finalize runs after stop's; both fired.
	if got := fin.calls.Load(); got != 1 {
		t.Fatalf("finalize count = %d, want 1", got)
	}
	if conv.openingCount() != 1 {
		t.Fatalf("opening count = %d, want 1", conv.openingCount())
	}
}

func TestHandleConn_FinalizesOnTransportDrop(t *testing.T) {
	conv := &fakeConversation{}
	fin := &countingFinalizer{}
	d := newTestDispatcher(testDispatcherConfig(), conv, fin)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, startEvent())
	time.Sleep(50 * time.Millisecond)
	conn.drop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not exit after drop")
	}
	if got := fin.calls.Load(); got != 1 {
		t.Fatalf("finalize count = %d, want 1", got)
	}
	if out := fin.last.Load().(call.Outcome); out != call.OutcomeDisconnected {
		t.Fatalf("outcome = %q, want disconnected", out)
	}
}

func TestHandleConn_NoSessionMeansNoFinalize(t *testing.T) {
	conv := &fakeConversation{}
	fin := &countingFinalizer{}
	d := newTestDispatcher(testDispatcherConfig(), conv, fin)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, Event{Event: EventConnected})
	conn.drop()

	<-done
	if got := fin.calls.Load(); got != 0 {
		t.Fatalf("finalize count = %d, want 0 without a session", got)
	}
}

func TestHandleConn_DuplicateStartIgnored(t *testing.T) {
	conv := &fakeConversation{}
	d := newTestDispatcher(testDispatcherConfig(), conv, nil)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, startEvent())
	conn.send(t, startEvent())
	conn.send(t, Event{Event: EventStop})

	<-done
	if conv.openingCount() != 1 {
		t.Fatalf("opening count = %d, want 1", conv.openingCount())
	}
}

func TestHandleConn_CompletedUtteranceReachesOrchestrator(t *testing.T) {
	conv := &fakeConversation{utteranceSeen: make(chan struct{}, 1)}
	d := newTestDispatcher(testDispatcherConfig(), conv, nil)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, startEvent())
	for i := 0; i < 3; i++ {
		conn.send(t, mediaEvent(wireFrame(8000)))
	}
	for i := 0; i < 2; i++ {
		conn.send(t, mediaEvent(wireFrame(0)))
	}

	select {
	case <-conv.utteranceSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("utterance never reached the orchestrator")
	}
	conn.send(t, Event{Event: EventStop})
	<-done

	sizes := conv.utteranceSizes()
	if len(sizes) != 1 {
		t.Fatalf("utterance count = %d, want 1", len(sizes))
	}
	if sizes[0] != 5*320 {
		t.Fatalf("utterance bytes = %d, want %d (all five frames)", sizes[0], 5*320)
	}
}

func TestHandleConn_SilenceNeverTriggersTurn(t *testing.T) {
	conv := &fakeConversation{}
	d := newTestDispatcher(testDispatcherConfig(), conv, nil)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, startEvent())
	for i := 0; i < 30; i++ {
		conn.send(t, mediaEvent(wireFrame(0)))
	}
	conn.send(t, Event{Event: EventStop})
	<-done

	if got := conv.utteranceSizes(); len(got) != 0 {
		t.Fatalf("utterances = %v, want none for pure silence", got)
	}
}

func TestHandleConn_BargeInSetsAbortWhileAgentSpeaks(t *testing.T) {
	speaking := make(chan struct{})
	aborted := make(chan struct{})
	conv := &fakeConversation{
		onOpening: func(sess *call.Session) {
			sess.SetAgentSpeaking(true)
			close(speaking)
			deadline := time.After(2 * time.Second)
			for !sess.AbortRequested() {
				select {
				case <-deadline:
					sess.SetAgentSpeaking(false)
					return
				case <-time.After(time.Millisecond):
				}
			}
			close(aborted)
			sess.SetAgentSpeaking(false)
		},
	}
	d := newTestDispatcher(testDispatcherConfig(), conv, nil)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, startEvent())
	<-speaking
	// Three consecutive voiced frames trip the barge-in detector.
	for i := 0; i < 3; i++ {
		conn.send(t, mediaEvent(wireFrame(8000)))
	}

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("barge-in never set the abort flag")
	}
	conn.send(t, Event{Event: EventStop})
	<-done
}

func TestHandleConn_EscalationDigitEndsCall(t *testing.T) {
	conv := &fakeConversation{}
	fin := &countingFinalizer{}
	d := newTestDispatcher(testDispatcherConfig(), conv, fin)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, startEvent())
	conn.send(t, Event{Event: EventDTMF, DTMF: &DTMFPayload{Digit: "0"}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not exit after escalation")
	}
	if !conv.wasEscalated() {
		t.Fatal("escalate was not invoked")
	}
	if got := fin.calls.Load(); got != 1 {
		t.Fatalf("finalize count = %d, want 1", got)
	}
}

func TestHandleConn_NonEscalationDigitIgnored(t *testing.T) {
	conv := &fakeConversation{}
	d := newTestDispatcher(testDispatcherConfig(), conv, nil)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, startEvent())
	conn.send(t, Event{Event: EventDTMF, DTMF: &DTMFPayload{Digit: "5"}})
	conn.send(t, Event{Event: EventStop})
	<-done

	if conv.wasEscalated() {
		t.Fatal("digit 5 must not escalate")
	}
}

func TestHandleConn_ClearResetsAndReplaysOpening(t *testing.T) {
	conv := &fakeConversation{}
	d := newTestDispatcher(testDispatcherConfig(), conv, nil)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, startEvent())
	// Partial speech that the reset must throw away.
	conn.send(t, mediaEvent(wireFrame(8000)))
	conn.send(t, Event{Event: EventClear})
	for i := 0; i < 2; i++ {
		conn.send(t, mediaEvent(wireFrame(0)))
	}
	conn.send(t, Event{Event: EventStop})
	<-done

	if conv.openingCount() != 2 {
		t.Fatalf("opening count = %d, want 2 (start + clear)", conv.openingCount())
	}
	if got := conv.utteranceSizes(); len(got) != 0 {
		t.Fatalf("utterances = %v, want none after reset", got)
	}
}

func TestHandleConn_EndCallAfterUtteranceFinalizes(t *testing.T) {
	conv := &fakeConversation{endAfterUtterance: true}
	fin := &countingFinalizer{}
	d := newTestDispatcher(testDispatcherConfig(), conv, fin)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.send(t, startEvent())
	for i := 0; i < 3; i++ {
		conn.send(t, mediaEvent(wireFrame(8000)))
	}
	for i := 0; i < 2; i++ {
		conn.send(t, mediaEvent(wireFrame(0)))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not exit after end-call decision")
	}
	if got := fin.calls.Load(); got != 1 {
		t.Fatalf("finalize count = %d, want 1", got)
	}
}

func TestHandleConn_BadFramesAreDroppedNotFatal(t *testing.T) {
	conv := &fakeConversation{}
	d := newTestDispatcher(testDispatcherConfig(), conv, nil)
	conn := newScriptConn()
	done := runDispatcher(d, conn)

	conn.inbound <- []byte("not json at all")
	conn.send(t, Event{Event: EventStart}) // start without payload
	conn.send(t, startEvent())
	conn.send(t, Event{Event: EventStop})
	<-done

	if conv.openingCount() != 1 {
		t.Fatalf("opening count = %d, want 1 after bad frames", conv.openingCount())
	}
}
