package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/loopbackai/agentd/internal/toolpool"
)

// ToolPool executes one tool call off the session's own goroutine. Satisfied
// by *toolpool.Pool; a narrow seam so the session package doesn't need the
// whole pool's construction/warm-up surface.
type ToolPool interface {
	RunTool(ctx context.Context, name string, args json.RawMessage, cancel *toolpool.CancelToken) (string, error)
}

// RunToolWithCache is the runToolWithCache executor an AgentDriver calls for
// every tool_call frame (spec §4.6): a CACHEABLE_TOOLS read-through keyed on
// the call's arguments and the target path's current mtime, a dispatch
// through the session's ToolPool on a miss, and a blanket Clear() after any
// WRITE_TOOLS call lands (P6: the cache is empty immediately after a write).
func (s *Session) RunToolWithCache(ctx context.Context, name string, args map[string]any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("session: marshal tool args: %w", err)
	}

	key := name + ":" + string(raw)
	mtime := argMtime(args)

	if CacheableTools[name] {
		if result, ok := s.cache.Get(key, mtime); ok {
			return result, nil
		}
	}

	result, err := s.pool.RunTool(ctx, name, raw, toolpool.NewCancelToken())
	if err != nil {
		return result, err
	}

	switch {
	case WriteTools[name]:
		s.cache.Clear()
	case CacheableTools[name]:
		s.cache.Put(key, result, mtime)
	}
	return result, nil
}

// argMtime extracts a best-effort source mtime from a tool call's "path"
// argument, for CACHEABLE_TOOLS invalidation. A missing or unstat-able path
// yields a zero time, which ToolCache.Get treats as "skip the mtime check".
func argMtime(args map[string]any) time.Time {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return time.Time{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
