package session

import (
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loopbackai/agentd/internal/agentevent"
	"github.com/loopbackai/agentd/internal/eventstore"
	"github.com/loopbackai/agentd/internal/permission"
	"github.com/loopbackai/agentd/pkg/types"
)

// ErrInvalidSessionID is returned by GetOrCreate for IDs outside the
// allowlist.
var ErrInvalidSessionID = errors.New("session: invalid session id")

// SweepConfig bounds the idle-eviction sweep (spec §4.6/§5).
type SweepConfig struct {
	EvictAfter time.Duration
	SweepEvery time.Duration
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.EvictAfter <= 0 {
		c.EvictAfter = 30 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 5 * time.Minute
	}
	return c
}

// Manager owns every live Session for one daemon.
type Manager struct {
	daemonID string
	store    *eventstore.Store
	perm     *permission.Coordinator
	driver   AgentDriver
	preflt   ModelPreflight
	pool     ToolPool
	cacheMax int
	cacheTTL time.Duration
	sweep    SweepConfig

	mu       sync.Mutex
	sessions map[string]*Session

	cron *cron.Cron
}

// NewManager creates a Manager and starts its idle-eviction sweep. pool is
// the shared ToolPool every session's runToolWithCache executor dispatches
// through.
func NewManager(daemonID string, store *eventstore.Store, perm *permission.Coordinator, driver AgentDriver, preflt ModelPreflight, pool ToolPool, cacheMax int, cacheTTL time.Duration, sweep SweepConfig) *Manager {
	sweep = sweep.withDefaults()
	m := &Manager{
		daemonID: daemonID,
		store:    store,
		perm:     perm,
		driver:   driver,
		preflt:   preflt,
		pool:     pool,
		cacheMax: cacheMax,
		cacheTTL: cacheTTL,
		sweep:    sweep,
		sessions: make(map[string]*Session),
		cron:     cron.New(),
	}
	spec := "@every " + sweep.SweepEvery.String()
	m.cron.AddFunc(spec, m.sweepIdle)
	m.cron.Start()
	return m
}

// GetOrCreate returns the live session for id, creating and hydrating it
// from durable storage on first reference. Idempotent by ID (spec §4.2).
func (m *Manager) GetOrCreate(id, model string) (*Session, error) {
	if !types.ValidSessionID(id) {
		return nil, ErrInvalidSessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	s := New(m.daemonID, id, model, Deps{
		Store:    m.store,
		Registry: agentevent.New(),
		Perm:     m.perm,
		Cache:    NewToolCache(m.cacheMax, m.cacheTTL),
		Pool:     m.pool,
		Driver:   m.driver,
		Preflt:   m.preflt,
	})
	m.sessions[id] = s
	s.Emit(types.EventSessionSnapshot, s.Snapshot().Session)
	return s, nil
}

// Get returns the live session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ResolvePermission resolves requestID via the shared permission coordinator
// and, on a genuine first-decision-wins success, publishes a
// permission.resolved event on the owning session so every subscriber
// (not just the resolving client) observes the outcome.
func (m *Manager) ResolvePermission(requestID string, decision types.PermissionDecision, decidedBy string) types.ResolveResult {
	result := m.perm.Resolve(requestID, decision)
	if result.OK {
		if s, ok := m.Get(result.SessionID); ok {
			s.Emit(types.EventPermissionResolve, types.PermissionResolved{
				RequestID: requestID, SessionID: result.SessionID, Decision: decision, DecidedBy: decidedBy,
			})
		}
	}
	return result
}

// List returns every live session ID.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// sweepIdle evicts sessions that are not active, have zero live
// subscribers, have nothing queued, and have been idle past EvictAfter,
// persisting their snapshot first. A session with a live WebSocket
// subscriber is never evicted (spec §4.6), even if idle.
func (m *Manager) sweepIdle() {
	m.mu.Lock()
	var toEvict []*Session
	for id, s := range m.sessions {
		if s.IsActive() {
			continue
		}
		if s.registry.Count() > 0 {
			continue
		}
		if s.queueLen() > 0 {
			continue
		}
		if s.IdleSince() >= m.sweep.EvictAfter {
			toEvict = append(toEvict, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range toEvict {
		_ = s.Persist()
		s.registry.Close()
	}
}

// Close persists and tears down every live session.
func (m *Manager) Close() {
	m.cron.Stop()
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Persist()
		s.registry.Close()
	}
}
