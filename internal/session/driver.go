// Package session is the orchestrator: session lifecycle, the single-active-
// turn drain loop, tool-result caching, cancellation, and idle eviction
// (spec §4.2/§4.6).
//
// Grounded on the teacher's internal/session/service.go (CRUD/lifecycle
// shape, ulid.Make() ID generation) and internal/session/loop.go
// (drain-loop/streaming-callback shape, here re-targeted at an injected
// AgentDriver instead of eino-backed providers), plus other_examples'
// claude-session.go (isProcessing/cache bookkeeping, broadcast-to-subscribers
// pattern).
package session

import (
	"context"

	"github.com/loopbackai/agentd/pkg/types"
)

// StreamCallbacks lets an AgentDriver push intermediate events back through
// the owning session without knowing about eventstore/agentevent directly.
type StreamCallbacks struct {
	Token     func(text string)
	Thinking  func(text string)
	ToolStart func(callID, name string, args map[string]any)
	ToolEnd   func(callID, name string, result string, err error)
	Progress  func(payload any)
}

// AgentDriver performs one turn's completion, streaming intermediate output
// via cb and returning final stats on success. It is an injected
// collaborator: the daemon owns transport, persistence, and tool dispatch,
// never LLM completion itself.
type AgentDriver interface {
	RunTurn(ctx context.Context, sess *Session, turn types.Turn, cb StreamCallbacks) (types.TurnStats, error)
}

// ModelPreflight checks that a model is loaded and ready before a turn
// starts draining. Implementations should apply their own zero-retry
// timeout; the session only applies the TTL cache around calls to Check.
type ModelPreflight interface {
	Check(ctx context.Context, model string) error
}
