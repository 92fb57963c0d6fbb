package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loopbackai/agentd/internal/tool"
)

// registryExecutor adapts a tool.Registry to toolpool.Executor, resolving a
// tool call by name and running it with no session-scoped context beyond
// the call itself (the pool's dispatch loop owns cancellation via ctx).
type registryExecutor struct {
	registry *tool.Registry
}

func (e *registryExecutor) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := e.registry.Get(name)
	if !ok {
		return "", fmt.Errorf("commands: unknown tool %q", name)
	}

	result, err := t.Execute(ctx, args, &tool.Context{})
	if err != nil {
		return "", err
	}
	return result.Output, nil
}
