package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loopbackai/agentd/internal/agentevent"
	"github.com/loopbackai/agentd/internal/eventstore"
	"github.com/loopbackai/agentd/internal/logging"
	"github.com/loopbackai/agentd/internal/permission"
	"github.com/loopbackai/agentd/internal/turnqueue"
	"github.com/loopbackai/agentd/pkg/types"
)

// Session is one conversation's durable state plus its live drain loop.
type Session struct {
	ID       string
	DaemonID string
	Model    string

	store    *eventstore.Store
	registry *agentevent.Registry
	perm     *permission.Coordinator
	cache    *ToolCache
	pool     ToolPool
	driver   AgentDriver
	preflt   ModelPreflight

	mu           sync.Mutex
	queue        *turnqueue.Queue
	draining     bool
	activeTurn   *types.Turn
	activeCancel context.CancelFunc
	messages     []types.Message
	seq          int64
	lastActive   time.Time
}

// Deps bundles a Session's collaborators.
type Deps struct {
	Store    *eventstore.Store
	Registry *agentevent.Registry
	Perm     *permission.Coordinator
	Cache    *ToolCache
	Pool     ToolPool
	Driver   AgentDriver
	Preflt   ModelPreflight
}

// New constructs a Session, hydrating its seq counter from the durable log
// if a snapshot already exists.
func New(daemonID, id, model string, d Deps) *Session {
	s := &Session{
		ID:         id,
		DaemonID:   daemonID,
		Model:      model,
		store:      d.Store,
		registry:   d.Registry,
		perm:       d.Perm,
		cache:      d.Cache,
		pool:       d.Pool,
		driver:     d.Driver,
		preflt:     d.Preflt,
		queue:      turnqueue.New(),
		lastActive: time.Now(),
	}
	if snap, err := d.Store.ReadSnapshot(id); err == nil {
		s.messages = snap.Session.Messages
		s.seq = snap.Session.Seq
	}
	return s
}

// Touch refreshes the session's idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long the session has had no activity.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// IsActive reports whether a turn is currently draining.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// Subscribe registers a live listener for this session's events.
func (s *Session) Subscribe(fn agentevent.Listener) (unsubscribe func()) {
	return s.registry.Subscribe(fn)
}

// Messages returns a copy of the conversation history accumulated so far,
// for an AgentDriver to use as context (spec §4.6: "existingMessages").
func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// AppendMessages records new messages produced by a completed turn.
func (s *Session) AppendMessages(msgs ...types.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()
}

// ReplayAfter returns durable events after afterSeq for replay-then-live
// merge in the transport layer.
func (s *Session) ReplayAfter(afterSeq int64) ([]types.Envelope, error) {
	return s.store.ReadEventsAfter(s.ID, afterSeq)
}

// nextSeq atomically advances and returns the session's sequence counter.
func (s *Session) nextSeq() int64 {
	return atomic.AddInt64(&s.seq, 1)
}

// CurrentSeq returns the session's latest sequence number, for a caller's
// optimistic-concurrency check at submit time (spec §4.6).
func (s *Session) CurrentSeq() int64 {
	return atomic.LoadInt64(&s.seq)
}

// HasHeadroom reports whether durable storage has room for another event.
func (s *Session) HasHeadroom() bool {
	return s.store.HasHeadroom()
}

// queueLen reports the number of turns waiting to drain.
func (s *Session) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Emit stamps, (unless ephemeral) persists, and fans out one event.
func (s *Session) Emit(kind types.EventKind, payload any) types.Envelope {
	seq := s.nextSeq()
	env := types.NewEnvelope(s.DaemonID, s.ID, kind, seq, payload)
	if !kind.Ephemeral() {
		if err := s.store.AppendEvent(s.ID, env); err != nil {
			// Falling back to an in-memory-only event is still better than
			// wedging the drain loop; submitTurn checks HasHeadroom up front
			// so the 507/storage-full surface is the common path, this is
			// only the race where headroom vanished between the check and
			// the append.
			logging.Warn().Err(err).Str("session", s.ID).Str("event", string(kind)).Msg("failed to persist event")
		}
	}
	s.registry.Publish(env)
	return env
}

// Submit enqueues a turn and kicks the drain loop if it isn't already
// running (spec §4.2: single active turn per session, FIFO otherwise).
func (s *Session) Submit(turn types.Turn) {
	s.Touch()

	s.mu.Lock()
	s.queue.Enqueue(turn)
	alreadyDraining := s.draining
	if !alreadyDraining {
		s.draining = true
	}
	s.mu.Unlock()

	s.Emit(types.EventTurnQueued, turn)

	if !alreadyDraining {
		go s.drainLoop()
	}
}

func (s *Session) drainLoop() {
	for {
		s.mu.Lock()
		next, ok := s.queue.Dequeue()
		if !ok {
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.runTurn(next)
	}
}

func (s *Session) runTurn(turn types.Turn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.mu.Lock()
	s.activeTurn = &turn
	s.activeCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.activeTurn = nil
		s.activeCancel = nil
		s.mu.Unlock()
	}()

	s.Touch()
	s.Emit(types.EventTurnStart, turn)

	if s.preflt != nil {
		if err := s.preflt.Check(ctx, s.Model); err != nil {
			s.Emit(types.EventTurnError, types.TurnErrorPayload{
				TurnID: turn.ID, WriterID: turn.WriterID, ClientID: turn.ClientID,
				Message: err.Error(), Code: types.ErrNoModelLoaded,
			})
			return
		}
	}

	cb := StreamCallbacks{
		Token:    func(text string) { s.Emit(types.EventTurnToken, text) },
		Thinking: func(text string) { s.Emit(types.EventTurnThinking, text) },
		ToolStart: func(callID, name string, args map[string]any) {
			s.Emit(types.EventToolStart, map[string]any{"callId": callID, "name": name, "args": args})
		},
		ToolEnd: func(callID, name, result string, err error) {
			payload := map[string]any{"callId": callID, "name": name, "result": result}
			if err != nil {
				payload["error"] = err.Error()
			}
			s.Emit(types.EventToolEnd, payload)
		},
		Progress: func(payload any) { s.Emit(types.EventTurnProgress, payload) },
	}

	defer func() {
		if r := recover(); r != nil {
			s.Emit(types.EventTurnError, types.TurnErrorPayload{
				TurnID: turn.ID, WriterID: turn.WriterID, ClientID: turn.ClientID,
				Message: fmt.Sprintf("agent driver panicked: %v", r),
			})
		}
	}()

	stats, err := s.driver.RunTurn(ctx, s, turn, cb)
	if err != nil {
		if ctx.Err() == context.Canceled {
			s.Emit(types.EventTurnError, types.TurnErrorPayload{
				TurnID: turn.ID, WriterID: turn.WriterID, ClientID: turn.ClientID,
				Message: "Turn cancelled",
			})
			return
		}
		s.Emit(types.EventTurnError, types.TurnErrorPayload{
			TurnID: turn.ID, WriterID: turn.WriterID, ClientID: turn.ClientID,
			Message: err.Error(),
		})
		return
	}

	s.Emit(types.EventTurnDone, stats)
	if err := s.Persist(); err != nil {
		logging.Warn().Err(err).Str("session", s.ID).Msg("failed to persist snapshot after turn")
	}
	s.Emit(types.EventSessionUpdated, s.Snapshot().Session)
}

// RequestPermission raises a permission.request event and returns the
// pending request plus a channel yielding the eventual decision. Called by
// an AgentDriver when a gated tool needs approval (spec §4.3/§4.4).
func (s *Session) RequestPermission(toolName string, args map[string]any) (types.PermissionRequest, <-chan types.PermissionDecision) {
	req, ch := s.perm.Request(s.ID, toolName, args)
	s.Emit(types.EventPermissionRequest, req)
	return req, ch
}

// CancelTurns cancels the active turn (if its ID or writer matches) and
// drops any matching queued turns, denying their pending permissions.
func (s *Session) CancelTurns(turnID, writerID string) int {
	cancelled := 0

	s.mu.Lock()
	active := s.activeTurn
	cancelFn := s.activeCancel
	matches := active != nil &&
		(turnID == "" || active.ID == turnID) &&
		(writerID == "" || active.WriterID == writerID)
	s.mu.Unlock()

	if matches && cancelFn != nil {
		cancelFn()
		cancelled++
	}

	s.mu.Lock()
	if turnID != "" {
		if s.queue.CancelByTurnID(turnID) {
			cancelled++
		}
	} else if writerID != "" {
		cancelled += s.queue.CancelByWriter(writerID)
	}
	s.mu.Unlock()

	s.perm.CancelSession(s.ID)
	return cancelled
}

// Snapshot builds the persistable snapshot for this session's current state.
func (s *Session) Snapshot() types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.Snapshot{Session: types.Session{
		ID:        s.ID,
		Model:     s.Model,
		Messages:  s.messages,
		Seq:       s.seq,
		UpdatedAt: time.Now().UnixMilli(),
	}}
}

// Persist writes the current snapshot to durable storage.
func (s *Session) Persist() error {
	return s.store.WriteSnapshot(s.ID, s.Snapshot())
}
