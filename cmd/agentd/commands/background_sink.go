package commands

import (
	"github.com/loopbackai/agentd/internal/session"
	"github.com/loopbackai/agentd/pkg/types"
)

// sessionEventSink adapts a session.Manager to bgprocess.EventSink, routing
// each background event to its owning session's own event stream rather
// than a process-wide bus (spec §3: sessions own their subscribers).
type sessionEventSink struct {
	sessions *session.Manager
}

func (s *sessionEventSink) EmitBackgroundOutput(sessionID string, payload types.BackgroundOutputEvent) {
	if sess, ok := s.sessions.Get(sessionID); ok {
		sess.Emit(types.EventBackgroundOutput, payload)
	}
}

func (s *sessionEventSink) EmitBackgroundStatus(sessionID string, payload types.BackgroundStatus) {
	if sess, ok := s.sessions.Get(sessionID); ok {
		sess.Emit(types.EventBackgroundStatus, payload)
	}
}
