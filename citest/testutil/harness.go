package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/loopbackai/agentd/internal/bgprocess"
	"github.com/loopbackai/agentd/internal/eventstore"
	"github.com/loopbackai/agentd/internal/permission"
	"github.com/loopbackai/agentd/internal/server"
	"github.com/loopbackai/agentd/internal/session"
	"github.com/loopbackai/agentd/internal/toolpool"
	"github.com/loopbackai/agentd/pkg/types"
)

// noopToolPool satisfies session.ToolPool for scenarios that exercise
// FakeDriver, which never issues a tool_call frame.
type noopToolPool struct{}

func (noopToolPool) RunTool(ctx context.Context, name string, args json.RawMessage, cancel *toolpool.CancelToken) (string, error) {
	return "", fmt.Errorf("citest: noopToolPool cannot run tool %q", name)
}

// TestingT is the subset of *testing.T (and ginkgo's GinkgoTInterface) that
// the harness needs, so it can be driven from either.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...any)
	Cleanup(func())
	TempDir() string
}

// Daemon is a running daemon stack (session manager, background manager,
// HTTP server) backed by an httptest.Server, for black-box exercise of the
// control-plane contract without a live inference server.
type Daemon struct {
	Token    string
	DaemonID string
	Sessions *session.Manager
	Driver   *FakeDriver

	srv    *httptest.Server
	client *http.Client
}

// StartDaemon wires a full daemon stack against t.TempDir() and a
// FakeDriver, and returns it listening on an ephemeral loopback port.
// Close is registered with t.Cleanup, so callers need not call it.
func StartDaemon(t TestingT, driver *FakeDriver) *Daemon {
	t.Helper()

	store, err := eventstore.New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("eventstore.New: %v", err)
	}

	perm := permission.New(500 * time.Millisecond)
	daemonID := ulid.Make().String()

	sessions := session.NewManager(daemonID, store, perm, driver, FakePreflight{}, noopToolPool{}, 100, time.Minute, session.SweepConfig{
		EvictAfter: time.Hour,
		SweepEvery: time.Hour,
	})

	bg := bgprocess.New(bgprocess.Config{
		MaxConcurrent: 4,
		MaxBufferSize: 64 * 1024,
		KillGrace:     2 * time.Second,
		PruneAfter:    time.Hour,
	}, sessionEventSink{sessions})

	token := "citest-token-" + ulid.Make().String()

	srv, err := server.New(&server.Config{
		Host:         "127.0.0.1",
		Port:         0,
		Token:        token,
		DaemonID:     daemonID,
		Version:      "citest",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0,
	}, sessions, bg)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ts := httptest.NewServer(srv.Router())

	d := &Daemon{
		Token:    token,
		DaemonID: daemonID,
		Sessions: sessions,
		Driver:   driver,
		srv:      ts,
		client:   ts.Client(),
	}
	t.Cleanup(d.Close)
	return d
}

// sessionEventSink adapts session.Manager to bgprocess.EventSink, mirroring
// cmd/agentd's production wiring (background output/status fan out onto the
// owning session's own event stream).
type sessionEventSink struct {
	sessions *session.Manager
}

func (s sessionEventSink) EmitBackgroundOutput(sessionID string, payload types.BackgroundOutputEvent) {
	if sess, ok := s.sessions.Get(sessionID); ok {
		sess.Emit(types.EventBackgroundOutput, payload)
	}
}

func (s sessionEventSink) EmitBackgroundStatus(sessionID string, payload types.BackgroundStatus) {
	if sess, ok := s.sessions.Get(sessionID); ok {
		sess.Emit(types.EventBackgroundStatus, payload)
	}
}

// Close tears down the HTTP server and the session manager beneath it.
func (d *Daemon) Close() {
	d.srv.Close()
	d.Sessions.Close()
}

// URL builds an absolute URL against the daemon's base address.
func (d *Daemon) URL(path string) string {
	return d.srv.URL + path
}

// Post issues an authenticated JSON POST and decodes the response body
// into out (if non-nil), returning the HTTP status code.
func (d *Daemon) Post(path string, body any, out any) (int, error) {
	return d.do(http.MethodPost, path, body, out)
}

// Get issues an authenticated GET and decodes the response body into out.
func (d *Daemon) Get(path string, out any) (int, error) {
	return d.do(http.MethodGet, path, nil, out)
}

func (d *Daemon) do(method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = strings.NewReader(string(b))
	}

	req, err := http.NewRequest(method, d.URL(path), reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.Token)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
