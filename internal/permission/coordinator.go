// Package permission implements the request/decide protocol described in
// spec §4.3: first-decision-wins CAS semantics, auto-deny timeouts, and
// duplicate-resolve detection.
//
// Grounded on the teacher's internal/permission/checker.go (pending-map
// shape, ulid request IDs) and on the pending/resolve-once pattern in
// other_examples' claude-session.go (pendingSDKPermissions + non-blocking
// resolve via select/default).
package permission

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/loopbackai/agentd/pkg/types"
)

// DefaultTimeout is the auto-deny timeout from spec §4.3/§5.
const DefaultTimeout = 120 * time.Second

type pendingEntry struct {
	sessionID string
	toolName  string
	args      map[string]any
	createdAt time.Time
	resolveCh chan types.PermissionDecision
	timer     *time.Timer
	resolved  bool
}

// Coordinator is the permission request/decide state machine.
type Coordinator struct {
	mu              sync.Mutex
	pending         map[string]*pendingEntry
	recentlyResolved map[string]time.Time
	timeout         time.Duration
}

// New creates a Coordinator with the given auto-deny timeout.
func New(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		pending:          make(map[string]*pendingEntry),
		recentlyResolved: make(map[string]time.Time),
		timeout:          timeout,
	}
}

// Request installs a new pending permission request and returns its record
// plus a channel that yields the eventual decision (allow/deny).
func (c *Coordinator) Request(sessionID, toolName string, args map[string]any) (types.PermissionRequest, <-chan types.PermissionDecision) {
	id := ulid.Make().String()
	ch := make(chan types.PermissionDecision, 1)

	entry := &pendingEntry{
		sessionID: sessionID,
		toolName:  toolName,
		args:      args,
		createdAt: time.Now(),
		resolveCh: ch,
	}

	c.mu.Lock()
	c.pending[id] = entry
	c.mu.Unlock()

	entry.timer = time.AfterFunc(c.timeout, func() { c.onTimeout(id) })

	return types.PermissionRequest{
		ID:        id,
		SessionID: sessionID,
		ToolName:  toolName,
		Args:      args,
		CreatedAt: entry.createdAt.UnixMilli(),
	}, ch
}

// Resolve applies the first decision for requestID. Exactly one caller
// across all concurrent resolves for the same ID observes OK:true; all
// others observe Conflict:true (already decided) or neither flag set
// (unknown ID — never existed, or its auto-deny timer already fired).
func (c *Coordinator) Resolve(requestID string, decision types.PermissionDecision) types.ResolveResult {
	c.mu.Lock()

	entry, ok := c.pending[requestID]
	if !ok {
		if _, wasResolved := c.recentlyResolved[requestID]; wasResolved {
			c.mu.Unlock()
			return types.ResolveResult{OK: false, Conflict: true, Message: "already resolved"}
		}
		c.mu.Unlock()
		return types.ResolveResult{OK: false, Conflict: false, Message: "unknown"}
	}

	if entry.resolved {
		c.mu.Unlock()
		return types.ResolveResult{OK: false, Conflict: true, Message: "already resolved"}
	}

	entry.resolved = true
	entry.timer.Stop()
	delete(c.pending, requestID)
	c.recentlyResolved[requestID] = time.Now()
	c.mu.Unlock()

	entry.resolveCh <- decision
	close(entry.resolveCh)

	c.scheduleGC(requestID)

	return types.ResolveResult{OK: true, Conflict: false, SessionID: entry.sessionID}
}

// onTimeout auto-resolves an unresolved request to deny. Per spec §4.3, the
// timeout path does not populate recentlyResolved, so a subsequent late
// resolve call sees "unknown", not "conflict".
func (c *Coordinator) onTimeout(requestID string) {
	c.mu.Lock()
	entry, ok := c.pending[requestID]
	if !ok || entry.resolved {
		c.mu.Unlock()
		return
	}
	entry.resolved = true
	delete(c.pending, requestID)
	c.mu.Unlock()

	entry.resolveCh <- types.DecisionDeny
	close(entry.resolveCh)
}

func (c *Coordinator) scheduleGC(requestID string) {
	time.AfterFunc(c.timeout, func() {
		c.mu.Lock()
		delete(c.recentlyResolved, requestID)
		c.mu.Unlock()
	})
}

// CancelSession auto-denies and removes every pending request for a
// session, used when a session or its active turn is cancelled.
func (c *Coordinator) CancelSession(sessionID string) {
	c.mu.Lock()
	var toDeny []*pendingEntry
	for id, e := range c.pending {
		if e.sessionID == sessionID && !e.resolved {
			e.resolved = true
			e.timer.Stop()
			delete(c.pending, id)
			toDeny = append(toDeny, e)
		}
	}
	c.mu.Unlock()

	for _, e := range toDeny {
		e.resolveCh <- types.DecisionDeny
		close(e.resolveCh)
	}
}
