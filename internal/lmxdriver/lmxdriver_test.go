package lmxdriver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopbackai/agentd/internal/agentevent"
	"github.com/loopbackai/agentd/internal/eventstore"
	"github.com/loopbackai/agentd/internal/permission"
	"github.com/loopbackai/agentd/internal/session"
	"github.com/loopbackai/agentd/pkg/types"
)

func TestCheck_ModelLoaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listModelsResponse{Models: []string{"llama-3-8b"}})
	}))
	defer srv.Close()

	d := New(srv.URL, "")
	assert.NoError(t, d.Check(t.Context(), "llama-3-8b"))
}

func TestCheck_ModelNotLoaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(listModelsResponse{Models: []string{"other-model"}})
	}))
	defer srv.Close()

	d := New(srv.URL, "")
	err := d.Check(t.Context(), "llama-3-8b")
	require.Error(t, err)
	assert.Equal(t, types.ErrNoModelLoaded, Code(err))
}

func TestCheck_ConnRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listens anymore

	d := New(url, "")
	err := d.Check(t.Context(), "llama-3-8b")
	require.Error(t, err)
	assert.Equal(t, types.ErrLMXConnRefused, Code(err))
}

func newTestSession(t *testing.T, driver session.AgentDriver) *session.Session {
	t.Helper()
	store, err := eventstore.New(t.TempDir(), 0)
	require.NoError(t, err)

	return session.New("d1", "sess1", "llama-3-8b", session.Deps{
		Store:    store,
		Registry: agentevent.New(),
		Perm:     permission.New(100 * time.Millisecond),
		Cache:    session.NewToolCache(10, time.Minute),
		Driver:   driver,
	})
}

// wsStub serves a single chat turn: it echoes back one token frame built
// from the request's last message, then a done frame.
func wsStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		var req wireRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}

		last := req.Messages[len(req.Messages)-1].Content
		wsjson.Write(r.Context(), conn, wireEvent{Type: "token", Text: "echo:" + last})
		wsjson.Write(r.Context(), conn, wireEvent{Type: "done", Stats: &types.TurnStats{Tokens: 1}})
	}))
}

func TestRunTurn_StreamsTokensAndAppendsHistory(t *testing.T) {
	srv := wsStub(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	d := New("", wsURL)
	sess := newTestSession(t, d)

	var tokens []string
	cb := session.StreamCallbacks{
		Token:     func(text string) { tokens = append(tokens, text) },
		Thinking:  func(string) {},
		ToolStart: func(string, string, map[string]any) {},
		ToolEnd:   func(string, string, string, error) {},
		Progress:  func(any) {},
	}

	stats, err := d.RunTurn(t.Context(), sess, types.Turn{ID: "t1", Content: "hi"}, cb)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo:hi"}, tokens)
	assert.Equal(t, 1, stats.Tokens)

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "echo:hi", msgs[1].Content)
}

func TestRunTurn_ServerErrorFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		var req wireRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}
		wsjson.Write(r.Context(), conn, wireEvent{Type: "error", Message: "no model loaded"})
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	d := New("", wsURL)
	sess := newTestSession(t, d)

	cb := session.StreamCallbacks{
		Token: func(string) {}, Thinking: func(string) {},
		ToolStart: func(string, string, map[string]any) {}, ToolEnd: func(string, string, string, error) {},
		Progress: func(any) {},
	}

	_, err := d.RunTurn(t.Context(), sess, types.Turn{ID: "t1", Content: "hi"}, cb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model loaded")
}

func TestRunTurn_DialFailure(t *testing.T) {
	d := New("", "ws://127.0.0.1:1/nope")
	sess := newTestSession(t, d)

	cb := session.StreamCallbacks{
		Token: func(string) {}, Thinking: func(string) {},
		ToolStart: func(string, string, map[string]any) {}, ToolEnd: func(string, string, string, error) {},
		Progress: func(any) {},
	}

	_, err := d.RunTurn(t.Context(), sess, types.Turn{ID: "t1", Content: "hi"}, cb)
	require.Error(t, err)
	assert.Equal(t, types.ErrLMXConnRefused, Code(err))
}
