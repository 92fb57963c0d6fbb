package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/loopbackai/agentd/pkg/types"
)

// wsInbound is an envelope-shaped client->daemon message on the WS plane
// (spec §4.8: hello, turn.submit, permission.resolve, turn.cancel).
type wsInbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type wsAck struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type wsErr struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// serveWS upgrades to a WebSocket and implements the replay-then-live merge
// discipline from spec §4.8:
//  1. subscribe into a buffer while replaying=true
//  2. read the backlog via ReplayAfter, delivering it and advancing cursor
//  3. flip replaying=false
//  4. flush buffered live events with seq > cursor
//  5. deliver further live events directly
//
// No lock over the session manager is held across any of this; ordering is
// guaranteed by the cursor comparison alone.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
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

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*", "[::1]:*"},
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	send := make(chan types.Envelope, 256)
	done := make(chan struct{})

	var mu sync.Mutex
	var buffered []types.Envelope
	cursor := after
	replaying := true

	unsubscribe := sess.Subscribe(func(env types.Envelope) {
		mu.Lock()
		if replaying {
			buffered = append(buffered, env)
			mu.Unlock()
			return
		}
		mu.Unlock()
		select {
		case send <- env:
		default:
		}
	})
	defer unsubscribe()

	// The writer must already be draining send before the backlog is
	// pushed; a session with more persisted events than send's capacity
	// would otherwise block here forever.
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-send:
				writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				err := wsjson.Write(writeCtx, conn, env)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}()

	backlog, err := sess.ReplayAfter(after)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "replay failed")
		return
	}
	for _, env := range backlog {
		select {
		case send <- env:
		case <-done:
			return
		}
		if env.Seq > cursor {
			cursor = env.Seq
		}
	}

	mu.Lock()
	replaying = false
	toFlush := buffered
	buffered = nil
	mu.Unlock()

	for _, env := range toFlush {
		if env.Seq > cursor {
			cursor = env.Seq
			select {
			case send <- env:
			case <-done:
				return
			}
		}
	}

	s.wsReadLoop(ctx, conn, sess)
	<-done
}

func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn, sess interface {
	Submit(types.Turn)
	CancelTurns(string, string) int
}) {
	for {
		var msg wsInbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		switch msg.Type {
		case "hello":
			wsjson.Write(ctx, conn, wsAck{Type: "ack", ID: msg.ID})

		case "turn.submit":
			var req submitTurnRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				wsjson.Write(ctx, conn, wsErr{Type: "error", ID: msg.ID, Error: "invalid turn.submit payload", Details: err.Error()})
				continue
			}
			if req.Content == "" {
				wsjson.Write(ctx, conn, wsErr{Type: "error", ID: msg.ID, Error: "content is required"})
				continue
			}
			if req.ID == "" {
				req.ID = msg.ID
			}
			if req.Mode == "" {
				req.Mode = types.ModeChat
			}
			sess.Submit(types.Turn{
				ID:        req.ID,
				ClientID:  req.ClientID,
				WriterID:  req.WriterID,
				Content:   req.Content,
				Mode:      req.Mode,
				Metadata:  req.Metadata,
				CreatedAt: time.Now().UnixMilli(),
			})
			wsjson.Write(ctx, conn, wsAck{Type: "ack", ID: msg.ID})

		case "turn.cancel":
			var req cancelTurnRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				wsjson.Write(ctx, conn, wsErr{Type: "error", ID: msg.ID, Error: "invalid turn.cancel payload", Details: err.Error()})
				continue
			}
			sess.CancelTurns(req.TurnID, req.WriterID)
			wsjson.Write(ctx, conn, wsAck{Type: "ack", ID: msg.ID})

		case "permission.resolve":
			var req resolvePermissionRequest
			var envelope struct {
				RequestID string `json:"requestId"`
			}
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				wsjson.Write(ctx, conn, wsErr{Type: "error", ID: msg.ID, Error: "invalid permission.resolve payload", Details: err.Error()})
				continue
			}
			_ = json.Unmarshal(msg.Data, &envelope)
			s.sessions.ResolvePermission(envelope.RequestID, req.Decision, req.DecidedBy)
			wsjson.Write(ctx, conn, wsAck{Type: "ack", ID: msg.ID})

		default:
			wsjson.Write(ctx, conn, wsErr{Type: "error", ID: msg.ID, Error: "unknown message type: " + msg.Type})
		}
	}
}
