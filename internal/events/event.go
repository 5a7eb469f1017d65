package events

import (
	"time"

	domain "github.com/oshokin/drowsy-alarm/internal/domain/alarm"
	"github.com/oshokin/drowsy-alarm/internal/service/common"
)

// Kind names an alarm event.
type Kind string

const (
	// KindAlarmFired is emitted when a sustained closure starts the alarm.
	KindAlarmFired Kind = "alarm.fired"
	// KindAlarmRecovered is emitted when an open eye ends the incident.
	KindAlarmRecovered Kind = "alarm.recovered"
)

// Event is one alarm lifecycle notification.
type Event struct {
	Kind Kind
	// At is when the event was raised.
	At time.Time
	// Incident is a snapshot taken when the event was raised.
	Incident *domain.Incident
	// Actor is the host the monitor runs on. Optional.
	Actor *common.Actor
}

// payload is the wire shape of an event.
type payload struct {
	Kind        Kind          `json:"kind"`
	At          time.Time     `json:"at"`
	IncidentID  string        `json:"incident_id"`
	SessionID   string        `json:"session_id,omitempty"`
	ClosedAt    time.Time     `json:"closed_at"`
	AlarmedAt   time.Time     `json:"alarmed_at"`
	RecoveredAt *time.Time    `json:"recovered_at,omitempty"`
	Outcome     string        `json:"outcome"`
	Error       string        `json:"error,omitempty"`
	Actor       *common.Actor `json:"actor,omitempty"`
}

// toPayload flattens an event for publication.
func toPayload(event Event) payload {
	p := payload{
		Kind:  event.Kind,
		At:    event.At.UTC(),
		Actor: event.Actor,
	}

	if incident := event.Incident; incident != nil {
		p.IncidentID = incident.ID
		p.SessionID = incident.SessionID
		p.ClosedAt = incident.ClosedAt.UTC()
		p.AlarmedAt = incident.AlarmedAt.UTC()
		p.Outcome = string(incident.Outcome)
		p.Error = incident.Error

		if !incident.RecoveredAt.IsZero() {
			recovered := incident.RecoveredAt.UTC()
			p.RecoveredAt = &recovered
		}
	}

	return p
}
