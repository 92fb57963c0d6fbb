// Package lmxdriver is the daemon's default AgentDriver/ModelPreflight
// implementation (spec.md §9: "the daemon reads model state from and
// streams chat turns via an external inference server over HTTP +
// WebSocket; the exact wire protocol of that server is an injected
// adapter, not part of this spec"). It speaks a small JSON-over-HTTP
// "list loaded models" call and a JSON-over-WebSocket streaming chat
// protocol, and dispatches tool calls the model requests through the
// owning session's cache-aware runToolWithCache executor.
//
// Grounded on the teacher's internal/provider package for the
// "list models then stream completion" shape (stripped of its multi-vendor
// provider registry, since lmxdriver speaks to exactly one local
// inference endpoint) and internal/server/ws.go for the coder/websocket
// idiom used on the streaming leg.
package lmxdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/loopbackai/agentd/internal/session"
	"github.com/loopbackai/agentd/pkg/types"
)

// Sentinel errors a caller can match with errors.Is to recover the
// turn.error code the spec requires (no-model-loaded, lmx-ws-closed,
// lmx-timeout, lmx-connection-refused).
var (
	ErrNoModelLoaded = errors.New("lmxdriver: model not loaded")
	ErrConnRefused   = errors.New("lmxdriver: connection refused")
	ErrStreamClosed  = errors.New("lmxdriver: stream closed")
)

// Code maps a RunTurn/Check error back to spec.md §7's turn.error code
// taxonomy, for callers that build the outbound event themselves.
func Code(err error) types.ErrorCode {
	switch {
	case errors.Is(err, ErrNoModelLoaded):
		return types.ErrNoModelLoaded
	case errors.Is(err, ErrConnRefused):
		return types.ErrLMXConnRefused
	case errors.Is(err, ErrStreamClosed):
		return types.ErrLMXWSClosed
	case errors.Is(err, context.DeadlineExceeded):
		return types.ErrLMXTimeout
	default:
		return ""
	}
}

// Driver talks to a single local inference server.
type Driver struct {
	httpBase string // e.g. "http://127.0.0.1:1234"
	wsURL    string // e.g. "ws://127.0.0.1:1234/v1/chat/stream"
	client   *http.Client
}

// New returns a Driver pointed at an inference server's HTTP and WebSocket
// endpoints.
func New(httpBase, wsURL string) *Driver {
	return &Driver{
		httpBase: httpBase,
		wsURL:    wsURL,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type listModelsResponse struct {
	Models []string `json:"models"`
}

// Check implements session.ModelPreflight: a model passes only if it
// appears in the server's currently loaded set (spec §4.6).
func (d *Driver) Check(ctx context.Context, model string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.httpBase+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("lmxdriver: build preflight request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnRefused, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lmxdriver: list models: status %d", resp.StatusCode)
	}

	var body listModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("lmxdriver: decode models response: %w", err)
	}

	for _, m := range body.Models {
		if m == model {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNoModelLoaded, model)
}

// wireEvent mirrors the frames the inference server emits on its chat
// stream: one token/thinking delta, a tool-call request, or a terminal
// stats frame.
type wireEvent struct {
	Type     string         `json:"type"` // "token" | "thinking" | "tool_call" | "done" | "error"
	Text     string         `json:"text,omitempty"`
	CallID   string         `json:"callId,omitempty"`
	ToolName string         `json:"toolName,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Stats    *types.TurnStats `json:"stats,omitempty"`
	Message  string         `json:"message,omitempty"`
}

type wireRequest struct {
	Model    string          `json:"model"`
	Messages []types.Message `json:"messages"`
}

// RunTurn implements session.AgentDriver. It streams one chat completion
// over WebSocket, dispatching any tool_call frames to the worker pool and
// feeding their results back as the next frame's tool-result message,
// until the server emits a terminal "done"/"error" frame.
func (d *Driver) RunTurn(ctx context.Context, sess *session.Session, turn types.Turn, cb session.StreamCallbacks) (types.TurnStats, error) {
	conn, _, err := websocket.Dial(ctx, d.wsURL, nil)
	if err != nil {
		return types.TurnStats{}, fmt.Errorf("%w: %v", ErrConnRefused, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "turn complete")

	history := append(sess.Messages(), types.Message{Role: "user", Content: turn.Content})

	if err := wsjson.Write(ctx, conn, wireRequest{Model: sess.Model, Messages: history}); err != nil {
		return types.TurnStats{}, fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}

	var assistantText string
	toolCalls := 0

	for {
		var ev wireEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return types.TurnStats{}, ctx.Err()
			}
			return types.TurnStats{}, fmt.Errorf("%w: %v", ErrStreamClosed, err)
		}

		switch ev.Type {
		case "token":
			assistantText += ev.Text
			cb.Token(ev.Text)

		case "thinking":
			cb.Thinking(ev.Text)

		case "tool_call":
			toolCalls++
			cb.ToolStart(ev.CallID, ev.ToolName, ev.Args)
			result, toolErr := sess.RunToolWithCache(ctx, ev.ToolName, ev.Args)
			cb.ToolEnd(ev.CallID, ev.ToolName, result, toolErr)

			resultMsg := types.Message{Role: "tool", Content: result}
			if toolErr != nil {
				resultMsg.Content = toolErr.Error()
			}
			if err := wsjson.Write(ctx, conn, resultMsg); err != nil {
				return types.TurnStats{}, fmt.Errorf("%w: %v", ErrStreamClosed, err)
			}

		case "done":
			sess.AppendMessages(
				types.Message{Role: "user", Content: turn.Content},
				types.Message{Role: "assistant", Content: assistantText},
			)
			stats := types.TurnStats{ToolCalls: toolCalls}
			if ev.Stats != nil {
				stats = *ev.Stats
				stats.ToolCalls = toolCalls
			}
			return stats, nil

		case "error":
			return types.TurnStats{}, fmt.Errorf("lmxdriver: %s", ev.Message)

		default:
			cb.Progress(ev)
		}
	}
}
