package types

import "time"

// ProtocolVersion is the wire envelope's "v" field.
const ProtocolVersion = "3"

// EventKind enumerates the event kinds named in the envelope wire format.
type EventKind string

const (
	EventSessionSnapshot   EventKind = "session.snapshot"
	EventTurnQueued        EventKind = "turn.queued"
	EventTurnStart         EventKind = "turn.start"
	EventTurnToken         EventKind = "turn.token"
	EventTurnThinking      EventKind = "turn.thinking"
	EventToolStart         EventKind = "tool.start"
	EventToolEnd           EventKind = "tool.end"
	EventPermissionRequest EventKind = "permission.request"
	EventPermissionResolve EventKind = "permission.resolved"
	EventTurnProgress      EventKind = "turn.progress"
	EventTurnDone          EventKind = "turn.done"
	EventTurnError         EventKind = "turn.error"
	EventSessionUpdated    EventKind = "session.updated"
	EventSessionCancelled  EventKind = "session.cancelled"
	EventBackgroundOutput  EventKind = "background.output"
	EventBackgroundStatus  EventKind = "background.status"
)

// Ephemeral reports whether events of this kind are fan-out-only (never
// appended to the durable log).
func (k EventKind) Ephemeral() bool {
	return k == EventTurnToken || k == EventTurnThinking
}

// Envelope is the wire record wrapping an event's payload.
type Envelope struct {
	V         string    `json:"v"`
	Event     EventKind `json:"event"`
	DaemonID  string    `json:"daemonId"`
	SessionID string    `json:"sessionId,omitempty"`
	Seq       int64     `json:"seq"`
	Ts        string    `json:"ts"`
	Payload   any       `json:"payload"`
}

// NewEnvelope builds an Envelope stamped with the current time.
func NewEnvelope(daemonID, sessionID string, kind EventKind, seq int64, payload any) Envelope {
	return Envelope{
		V:         ProtocolVersion,
		Event:     kind,
		DaemonID:  daemonID,
		SessionID: sessionID,
		Seq:       seq,
		Ts:        time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}
