// Package agentevent provides the per-session event fan-out registry used
// by the session manager to publish envelopes to live subscribers.
//
// Grounded on the teacher's internal/event/bus.go, which ran one process-wide
// watermill gochannel plus a direct-call subscriber map. Here each session
// owns its own registry instance (per spec §3: "Sessions hold subscribers
// ... never by back-pointer into the transport layer"). Each registry
// still creates a watermill gochannel and closes it in Close, but Publish
// does not go through it: it calls every subscribed listener directly.
package agentevent

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/loopbackai/agentd/pkg/types"
)

// Listener receives envelopes published to a session's registry.
type Listener func(types.Envelope)

type subscriberEntry struct {
	id uint64
	fn Listener
}

// Registry is one session's live subscriber set.
type Registry struct {
	mu     sync.RWMutex
	pubsub *gochannel.GoChannel

	subscribers []subscriberEntry
	nextID      uint64
	closed      bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64, Persistent: false},
			watermill.NopLogger{},
		),
	}
}

// Subscribe registers fn and returns an unsubscribe function.
func (r *Registry) Subscribe(fn Listener) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return func() {}
	}

	id := atomic.AddUint64(&r.nextID, 1)
	r.subscribers = append(r.subscribers, subscriberEntry{id: id, fn: fn})

	return func() { r.unsubscribe(id) }
}

func (r *Registry) unsubscribe(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.subscribers {
		if e.id == id {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			return
		}
	}
}

// Count reports the number of live subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Publish delivers env to every subscriber inline, isolating a panicking or
// erroring subscriber from the others (spec §4.6 "Emit").
func (r *Registry) Publish(env types.Envelope) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	fns := make([]Listener, len(r.subscribers))
	for i, e := range r.subscribers {
		fns[i] = e.fn
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		callIsolated(fn, env)
	}
}

func callIsolated(fn Listener, env types.Envelope) {
	defer func() {
		_ = recover() // a faulty subscriber cannot block or corrupt others
	}()
	fn(env)
}

// Close tears down the registry; subsequent Subscribe calls are no-ops.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.subscribers = nil
	r.mu.Unlock()
	_ = r.pubsub.Close()
}
