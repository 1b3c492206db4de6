package call

// Stage identifies where the conversation currently sits in the sales flow.
// The model proposes the next stage each turn, so Stage is a string rather
// than a closed integer enum: unknown proposed values are rejected by
// Transition and the current stage is kept.
type Stage string

const (
	StageIntro             Stage = "intro"
	StagePermission        Stage = "permission"
	StageDiscovery         Stage = "discovery"
	StageQualification     Stage = "qualification"
	StagePresentation      Stage = "presentation"
	StageObjectionHandling Stage = "objection_handling"
	StageTrialClose        Stage = "trial_close"
	StageClosing           Stage = "closing"
	StageFollowUpScheduled Stage = "follow_up_scheduled"
	StageDealClosed        Stage = "deal_closed"
	StageDeadEnd           Stage = "dead_end"
)

var knownStages = map[Stage]struct{}{
	StageIntro:             {},
	StagePermission:        {},
	StageDiscovery:         {},
	StageQualification:     {},
	StagePresentation:      {},
	StageObjectionHandling: {},
	StageTrialClose:        {},
	StageClosing:           {},
	StageFollowUpScheduled: {},
	StageDealClosed:        {},
	StageDeadEnd:           {},
}

// Known reports whether the stage belongs to the closed set.
func (s Stage) Known() bool {
	_, ok := knownStages[s]
	return ok
}

// Terminal reports whether the stage ends the conversation flow.
func (s Stage) Terminal() bool {
	switch s {
	case StageDealClosed, StageFollowUpScheduled, StageDeadEnd:
		return true
	default:
		return false
	}
}

// Transition validates a model-proposed stage against the closed set.
// An empty or unknown proposal keeps the current stage.
func Transition(current, proposed Stage) Stage {
	if proposed == "" || !proposed.Known() {
		return current
	}
	return proposed
}

// Outcome is the terminal classification of a completed call.
type Outcome string

const (
	OutcomeQualified         Outcome = "qualified"
	OutcomeNotInterested     Outcome = "not_interested"
	OutcomeCallbackRequested Outcome = "callback_requested"
	OutcomeEscalated         Outcome = "escalated"
	OutcomeNoAnswer          Outcome = "no_answer"
	OutcomeDisconnected      Outcome = "disconnected"
	OutcomeError             Outcome = "error"
)
