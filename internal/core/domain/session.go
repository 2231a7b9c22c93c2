package domain

import (
	"time"

	"github.com/google/uuid"
)

// State is a node of the booking workflow.
type State int

const (
	StateStart State = iota
	StateWaitingRoom
	StateLocationClaim
	StateEligibilityCheck
	StateCodeEntry
	StateClaimCode
	StateCodeVerification
	StateAppointmentSearch
	StateRetryOrIdle
	StateAlertAndExit
	StateAbandoned
	StateIdle
)

var stateNames = map[State]string{
	StateStart:             "start",
	StateWaitingRoom:       "waiting_room",
	StateLocationClaim:     "location_claim",
	StateEligibilityCheck:  "eligibility_check",
	StateCodeEntry:         "code_entry",
	StateClaimCode:         "claim_code",
	StateCodeVerification:  "code_verification",
	StateAppointmentSearch: "appointment_search",
	StateRetryOrIdle:       "retry_or_idle",
	StateAlertAndExit:      "alert_and_exit",
	StateAbandoned:         "abandoned",
	StateIdle:              "idle",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the workflow stops in this state.
// StateIdle ends a run that found nothing to do (no vacancy, no slots, limit reached).
func (s State) Terminal() bool {
	return s == StateAlertAndExit || s == StateAbandoned || s == StateIdle
}

// BackoffState tracks consecutive throttling signals within one session.
type BackoffState struct {
	Escalations int
	NextRetryAt time.Time
}

// Reset clears the escalation counter after a non-throttled success.
func (b *BackoffState) Reset() {
	b.Escalations = 0
	b.NextRetryAt = time.Time{}
}

// Session is the live state of one workflow run for one location.
// It is owned by exactly one worker.
type Session struct {
	ID        string
	WorkerID  string
	State     State
	StartedAt time.Time
	// KeepOpen asks the owner not to close the page resource when the run ends.
	KeepOpen bool
	Location  *Location
	Backoff   BackoffState
	// Inferences counts failed state inference attempts since the last successful step.
	Inferences int
	// ClaimToken is the server token of a code requested over the booking API.
	ClaimToken string
	// Slots holds the pairs found by the last appointment search.
	Slots []SlotPair
}

// NewSession starts a session for loc at StateStart.
func NewSession(workerID string, loc *Location) *Session {
	return &Session{
		ID:        uuid.New().String(),
		WorkerID:  workerID,
		State:     StateStart,
		StartedAt: time.Now(),
		Location:  loc,
	}
}

// Restart moves the session back to StateStart and clears per-attempt bookkeeping.
func (s *Session) Restart() {
	s.State = StateStart
	s.Backoff.Reset()
	s.Inferences = 0
	s.ClaimToken = ""
	s.Slots = nil
}
