package alarm

import "time"

// Outcome tells how the alarm sound of an incident ended.
type Outcome string

const (
	// OutcomePending means the incident is still open.
	OutcomePending Outcome = "pending"
	// OutcomePlayed means the sound played to its end.
	OutcomePlayed Outcome = "played"
	// OutcomeInterrupted means the operator recovered while the sound played.
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeFailed means the sound could not be played.
	OutcomeFailed Outcome = "failed"
)

// Incident records one closure run that outlasted the hold duration.
type Incident struct {
	// ID is a time-ordered identifier.
	ID string
	// SessionID links the incident to the alarm playback session.
	SessionID string
	// ClosedAt is when all eyes were first seen closed.
	ClosedAt time.Time
	// AlarmedAt is when the alarm fired.
	AlarmedAt time.Time
	// RecoveredAt is when an open eye was seen again. Zero while open.
	RecoveredAt time.Time
	// Outcome is how the alarm sound ended.
	Outcome Outcome
	// Error describes a playback failure.
	Error string
}

// Duration returns how long the eyes stayed closed, or zero while the incident is open.
func (i *Incident) Duration() time.Duration {
	if i.RecoveredAt.IsZero() {
		return 0
	}

	return i.RecoveredAt.Sub(i.ClosedAt)
}

// Clone returns a copy of the incident.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}

	cloned := *i

	return &cloned
}
