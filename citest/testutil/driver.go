// Package testutil provides a standalone daemon instance, wired with a
// deterministic fake agent driver, for use by citest's ginkgo suites.
package testutil

import (
	"context"
	"strings"
	"time"

	"github.com/loopbackai/agentd/internal/session"
	"github.com/loopbackai/agentd/pkg/types"
)

// FakeDriver is a deterministic AgentDriver stand-in for a real inference
// server: it streams a fixed token sequence, honours cooperative
// cancellation promptly, and records the turn into session history exactly
// as a real driver would (spec §4.6: "existingMessages").
type FakeDriver struct {
	Tokens     []string
	TokenDelay time.Duration
	FailWith   error
}

func (d *FakeDriver) delay() time.Duration {
	if d.TokenDelay > 0 {
		return d.TokenDelay
	}
	return 10 * time.Millisecond
}

// RunTurn streams d.Tokens (default: two chunks) through cb, then appends
// the turn to session history and returns stats. If ctx is cancelled
// mid-stream it returns ctx.Err() immediately, without appending history.
func (d *FakeDriver) RunTurn(ctx context.Context, sess *session.Session, turn types.Turn, cb session.StreamCallbacks) (types.TurnStats, error) {
	if d.FailWith != nil {
		return types.TurnStats{}, d.FailWith
	}

	tokens := d.Tokens
	if tokens == nil {
		tokens = []string{"hello", " world"}
	}

	start := time.Now()
	var firstMs *int64
	for _, tok := range tokens {
		select {
		case <-ctx.Done():
			return types.TurnStats{}, ctx.Err()
		case <-time.After(d.delay()):
		}
		cb.Token(tok)
		if firstMs == nil {
			ms := time.Since(start).Milliseconds()
			firstMs = &ms
		}
	}

	sess.AppendMessages(
		types.Message{Role: "user", Content: turn.Content},
		types.Message{Role: "assistant", Content: strings.Join(tokens, "")},
	)

	return types.TurnStats{
		Tokens:              len(tokens),
		CompletionTokens:    len(tokens),
		ElapsedMs:           time.Since(start).Milliseconds(),
		FirstTokenLatencyMs: firstMs,
	}, nil
}

// FakePreflight always reports the model as loaded, with no network call.
type FakePreflight struct{}

// Check implements session.ModelPreflight.
func (FakePreflight) Check(ctx context.Context, model string) error { return nil }
