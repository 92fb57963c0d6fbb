package testutil

import (
	"context"
	"net/url"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/loopbackai/agentd/pkg/types"
)

// Subscription is a live feed of one session's envelopes, delivered in
// arrival order over Events.
type Subscription struct {
	Events <-chan types.Envelope
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// Close tears down the underlying WebSocket connection.
func (s *Subscription) Close() {
	s.cancel()
	s.conn.CloseNow()
}

// Subscribe opens the daemon's WS plane for sessionID, replaying everything
// after afterSeq and then delivering live events, mirroring a real client's
// replay-then-live merge (spec §4.8).
func (d *Daemon) Subscribe(t TestingT, sessionID string, afterSeq int64) *Subscription {
	t.Helper()

	u, err := url.Parse(d.URL("/v3/ws"))
	if err != nil {
		t.Fatalf("parse ws url: %v", err)
	}
	u.Scheme = "ws"
	q := u.Query()
	q.Set("sessionId", sessionID)
	q.Set("after", strconv.FormatInt(afterSeq, 10))
	q.Set("token", d.Token)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(context.Background())
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		cancel()
		t.Fatalf("dial ws: %v", err)
	}

	events := make(chan types.Envelope, 256)
	go func() {
		defer close(events)
		for {
			var env types.Envelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				return
			}
			select {
			case events <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	sub := &Subscription{Events: events, conn: conn, cancel: cancel}
	t.Cleanup(sub.Close)
	return sub
}
