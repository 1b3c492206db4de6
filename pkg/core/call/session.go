// Package call holds the per-call conversational state shared between the
// event dispatcher, turn detector, orchestrator and streaming responder.
package call

import (
	"encoding/json"
	"sync"
	"time"
)

// Speaker labels a transcript entry.
const (
	SpeakerAgent  = "agent"
	SpeakerRemote = "remote"
)

// Entry is one line of the conversation transcript.
type Entry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// LeadContext is caller-supplied metadata attached to the call.
type LeadContext struct {
	LeadID       int     `json:"lead_id"`
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	PropertyType string  `json:"property_type,omitempty"`
	Location     string  `json:"location,omitempty"`
	Budget       float64 `json:"budget,omitempty"`
	Source       string  `json:"source,omitempty"`
}

// Session is the mutable per-call state. It is owned by the call's
// dispatcher loop; the speaking/abort flags are additionally observed by
// the concurrently running responder goroutine, so all access goes through
// the mutex-guarded methods.
//
// Invariants:
//   - agent-speaking and listening are never both true
//   - transcript timestamps are monotonically non-decreasing
//   - a collected field, once non-null, is never reset to null
//   - the outcome is set at most once
type Session struct {
	mu sync.Mutex

	CallID    string      `json:"call_id"`
	Remote    string      `json:"remote"`
	Lead      LeadContext `json:"lead"`
	Stage     Stage       `json:"stage"`
	StartedAt time.Time   `json:"started_at"`
	LastSeen  time.Time   `json:"last_seen"`

	Transcript []Entry        `json:"transcript"`
	Collected  map[string]any `json:"collected"`
	Outcome    Outcome        `json:"outcome,omitempty"`

	AgentSpeaking bool `json:"agent_speaking"`
	Listening     bool `json:"listening"`
	AbortSpeech   bool `json:"abort_speech"`
	Escalated     bool `json:"escalated"`
}

// NewSession creates the session for a starting call.
func NewSession(callID, remote string, lead LeadContext) *Session {
	now := time.Now().UTC()
	return &Session{
		CallID:    callID,
		Remote:    remote,
		Lead:      lead,
		Stage:     StageIntro,
		StartedAt: now,
		LastSeen:  now,
		Collected: make(map[string]any),
		Listening: true,
	}
}

// Append adds a transcript entry, clamping the timestamp so the transcript
// stays monotonically non-decreasing.
func (s *Session) Append(speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UTC()
	if n := len(s.Transcript); n > 0 && ts.Before(s.Transcript[n-1].Timestamp) {
		ts = s.Transcript[n-1].Timestamp
	}
	s.Transcript = append(s.Transcript, Entry{Speaker: speaker, Text: text, Timestamp: ts})
	s.LastSeen = ts
}

// Tail returns up to n most recent transcript entries.
func (s *Session) Tail(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.Transcript) {
		n = len(s.Transcript)
	}
	out := make([]Entry, n)
	copy(out, s.Transcript[len(s.Transcript)-n:])
	return out
}

// MergeFields merges newly extracted field values into the collected set.
// Null and empty values never overwrite an existing non-null value; a field
// not yet present is only set when the incoming value is non-null.
func (s *Session) MergeFields(fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range fields {
		if isNull(v) {
			continue
		}
		s.Collected[k] = v
	}
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok && s == "" {
		return true
	}
	return false
}

// Fields returns a copy of the collected fields.
func (s *Session) Fields() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.Collected))
	for k, v := range s.Collected {
		out[k] = v
	}
	return out
}

// CurrentStage returns the conversation stage.
func (s *Session) CurrentStage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Stage
}

// AdvanceStage validates and applies a model-proposed stage.
func (s *Session) AdvanceStage(proposed Stage) Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stage = Transition(s.Stage, proposed)
	return s.Stage
}

// SetOutcome records the terminal classification. Only the first call takes
// effect.
func (s *Session) SetOutcome(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Outcome == "" {
		s.Outcome = o
	}
}

// FinalOutcome returns the recorded outcome, or fallback when none was set.
func (s *Session) FinalOutcome(fallback Outcome) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Outcome == "" {
		return fallback
	}
	return s.Outcome
}

// SetAgentSpeaking flips the speaking flag. Entering the speaking state
// clears listening and any stale abort request; leaving it restores
// listening.
func (s *Session) SetAgentSpeaking(speaking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AgentSpeaking = speaking
	s.Listening = !speaking
	if speaking {
		s.AbortSpeech = false
	}
}

// IsAgentSpeaking reports whether responder output is in flight.
func (s *Session) IsAgentSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AgentSpeaking
}

// IsListening reports whether the turn detector should accumulate frames.
func (s *Session) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Listening
}

// RequestAbort asks the responder to stop mid-stream (barge-in).
func (s *Session) RequestAbort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AgentSpeaking {
		s.AbortSpeech = true
	}
}

// AbortRequested reports whether a barge-in abort is pending.
func (s *Session) AbortRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AbortSpeech
}

// ClearAbort resets the abort flag after the responder has honored it.
func (s *Session) ClearAbort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AbortSpeech = false
}

// RequestEscalation marks the caller's request for a human hand-off.
func (s *Session) RequestEscalation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Escalated = true
}

// EscalationRequested reports whether a hand-off was requested.
func (s *Session) EscalationRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Escalated
}

// Reset clears conversational state for a transport reset event, keeping
// the call identity and lead context.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Stage = StageIntro
	s.Transcript = nil
	s.Collected = make(map[string]any)
	s.Outcome = ""
	s.AgentSpeaking = false
	s.Listening = true
	s.AbortSpeech = false
}

// sessionJSON mirrors Session for lock-safe serialization.
type sessionJSON struct {
	CallID        string         `json:"call_id"`
	Remote        string         `json:"remote"`
	Lead          LeadContext    `json:"lead"`
	Stage         Stage          `json:"stage"`
	StartedAt     time.Time      `json:"started_at"`
	LastSeen      time.Time      `json:"last_seen"`
	Transcript    []Entry        `json:"transcript"`
	Collected     map[string]any `json:"collected"`
	Outcome       Outcome        `json:"outcome,omitempty"`
	AgentSpeaking bool           `json:"agent_speaking"`
	Listening     bool           `json:"listening"`
	AbortSpeech   bool           `json:"abort_speech"`
	Escalated     bool           `json:"escalated"`
}

// MarshalJSON serializes a consistent snapshot of the session.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	collected := make(map[string]any, len(s.Collected))
	for k, v := range s.Collected {
		collected[k] = v
	}
	snap := sessionJSON{
		CallID:        s.CallID,
		Remote:        s.Remote,
		Lead:          s.Lead,
		Stage:         s.Stage,
		StartedAt:     s.StartedAt,
		LastSeen:      s.LastSeen,
		Transcript:    append([]Entry(nil), s.Transcript...),
		Collected:     collected,
		Outcome:       s.Outcome,
		AgentSpeaking: s.AgentSpeaking,
		Listening:     s.Listening,
		AbortSpeech:   s.AbortSpeech,
		Escalated:     s.Escalated,
	}
	s.mu.Unlock()
	return json.Marshal(snap)
}

// UnmarshalJSON restores a session from its stored snapshot.
func (s *Session) UnmarshalJSON(data []byte) error {
	var snap sessionJSON
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallID = snap.CallID
	s.Remote = snap.Remote
	s.Lead = snap.Lead
	s.Stage = snap.Stage
	s.StartedAt = snap.StartedAt
	s.LastSeen = snap.LastSeen
	s.Transcript = snap.Transcript
	s.Collected = snap.Collected
	if s.Collected == nil {
		s.Collected = make(map[string]any)
	}
	s.Outcome = snap.Outcome
	s.AgentSpeaking = snap.AgentSpeaking
	s.Listening = snap.Listening
	s.AbortSpeech = snap.AbortSpeech
	s.Escalated = snap.Escalated
	return nil
}
