package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/loopbackai/agentd/pkg/types"
)

// sseHeartbeatInterval keeps idle intermediaries (proxies, browsers) from
// closing a quiet connection. Grounded on the teacher's sse.go flush
// discipline; the interval itself is halved from the teacher's 30s to match
// this daemon's 15s contract (spec §4.8).
const sseHeartbeatInterval = 15 * time.Second

// sseEvents is the SSE fallback for clients that can't hold a WebSocket. It
// implements the same replay-then-live merge discipline as serveWS (spec
// §4.8): buffer live events while the backlog streams, then flush anything
// that arrived during replay before switching to direct delivery.
func (s *Server) sseEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown session")
		return
	}

	after := int64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			after = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	write := func(env types.Envelope) {
		b, err := json.Marshal(env)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Event, b)
		flusher.Flush()
	}

	var buffered []types.Envelope
	cursor := after
	replaying := true

	unsubscribe := sess.Subscribe(func(env types.Envelope) {
		if replaying {
			buffered = append(buffered, env)
			return
		}
		if env.Seq > cursor {
			cursor = env.Seq
			write(env)
		}
	})
	defer unsubscribe()

	backlog, err := sess.ReplayAfter(after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	for _, env := range backlog {
		write(env)
		if env.Seq > cursor {
			cursor = env.Seq
		}
	}

	replaying = false
	for _, env := range buffered {
		if env.Seq > cursor {
			cursor = env.Seq
			write(env)
		}
	}
	buffered = nil

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
