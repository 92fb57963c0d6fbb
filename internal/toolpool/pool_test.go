package toolpool

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoExecutor struct {
	delay   time.Duration
	calls   int32
}

func (e *echoExecutor) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return string(args), nil
}

func TestRunToolReturnsResult(t *testing.T) {
	exec := &echoExecutor{}
	p := New(exec, Config{MaxWorkers: 2})
	defer p.Close()

	out, err := p.RunTool(context.Background(), "read", json.RawMessage(`"hello"`), NewCancelToken())
	require.NoError(t, err)
	assert.Equal(t, `"hello"`, out)
}

func TestAskUserSentinel(t *testing.T) {
	p := New(&echoExecutor{}, Config{MaxWorkers: 1})
	defer p.Close()

	_, err := p.RunTool(context.Background(), "ask_user", nil, NewCancelToken())
	assert.ErrorIs(t, err, ErrAskUser)
}

func TestCancelBeforeDispatch(t *testing.T) {
	p := New(&echoExecutor{}, Config{MaxWorkers: 1})
	defer p.Close()

	tok := NewCancelToken()
	tok.Cancel()

	_, err := p.RunTool(context.Background(), "bash", nil, tok)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestBoundedConcurrencyDrains(t *testing.T) {
	exec := &echoExecutor{delay: 20 * time.Millisecond}
	p := New(exec, Config{MaxWorkers: 2, IdleAfter: 50 * time.Millisecond})
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.RunTool(context.Background(), "bash", json.RawMessage(`"x"`), NewCancelToken())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, p.Stats().Live, 2)
	assert.EqualValues(t, 6, atomic.LoadInt32(&exec.calls))
}
