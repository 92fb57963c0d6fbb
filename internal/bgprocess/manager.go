// Package bgprocess supervises detached child processes launched on behalf
// of a session: direct tokenization (no shell), bounded output ring
// buffering, and SIGTERM->SIGKILL termination (spec §4.5).
//
// Grounded on other_examples' process-manager.go (Manager/Entry shape: an
// entries map guarded by one mutex, an idle-reaper goroutine built on
// removeWhere-by-predicate) adapted from idle-timeout eviction to
// terminal-state pruning, since background processes are pruned 5 minutes
// after completion rather than reaped for inactivity.
package bgprocess

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loopbackai/agentd/pkg/types"
)

// ErrTooManyConcurrent is returned by Start when running count >= maxConcurrent.
var ErrTooManyConcurrent = errors.New("bgprocess: too many concurrent processes")

// ErrNotFound is returned when a processID is unknown.
var ErrNotFound = errors.New("bgprocess: not found")

// EventSink receives output chunks and status transitions so the owning
// session can fan them out as background.output/background.status events.
type EventSink interface {
	EmitBackgroundOutput(sessionID string, payload types.BackgroundOutputEvent)
	EmitBackgroundStatus(sessionID string, payload types.BackgroundStatus)
}

// Config bounds the manager's behavior (spec §4.5, §5).
type Config struct {
	MaxConcurrent int
	MaxBufferSize int64
	KillGrace     time.Duration
	PruneAfter    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = 1 << 20
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 5 * time.Second
	}
	if c.PruneAfter <= 0 {
		c.PruneAfter = 5 * time.Minute
	}
	return c
}

// Manager supervises all background processes for the daemon.
type Manager struct {
	cfg  Config
	sink EventSink

	mu     sync.Mutex
	procs  map[string]*process
	nextID int64

	cron *cron.Cron
}

// New creates a Manager and starts its cron-scheduled prune sweep.
func New(cfg Config, sink EventSink) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:   cfg,
		sink:  sink,
		procs: make(map[string]*process),
		cron:  cron.New(),
	}
	m.cron.AddFunc("@every 1m", m.pruneTerminal)
	m.cron.Start()
	return m
}

// Close stops the prune sweep and kills every running process.
func (m *Manager) Close() {
	m.cron.Stop()
	m.mu.Lock()
	procs := make([]*process, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.mu.Unlock()
	for _, p := range procs {
		m.kill(p, syscall.SIGKILL)
	}
}

// StartRequest describes a background process to launch.
type StartRequest struct {
	SessionID string
	Command   string
	Label     string
	Cwd       string
	TimeoutMs int64
}

// Start tokenizes and launches command, returning its assigned process ID.
func (m *Manager) Start(req StartRequest) (*types.BackgroundProcess, error) {
	m.mu.Lock()
	running := 0
	for _, p := range m.procs {
		if p.state() == types.ProcessRunning {
			running++
		}
	}
	if running >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return nil, ErrTooManyConcurrent
	}
	m.nextID++
	id := fmt.Sprintf("bg_%d", m.nextID)
	m.mu.Unlock()

	argv, err := Tokenize(req.Command)
	if err != nil {
		return nil, fmt.Errorf("bgprocess: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = req.Cwd
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bgprocess: start: %w", err)
	}

	p := &process{
		id:        id,
		sessionID: req.SessionID,
		cmd:       cmd,
		command:   req.Command,
		cwd:       req.Cwd,
		label:     req.Label,
		startedAt: time.Now(),
		ring:      newRing(m.cfg.MaxBufferSize),
		status:    types.ProcessRunning,
	}

	m.mu.Lock()
	m.procs[id] = p
	m.mu.Unlock()

	go m.pump(p, stdout, types.StreamStdout)
	go m.pump(p, stderr, types.StreamStderr)
	go m.wait(p)

	if req.TimeoutMs > 0 {
		d := time.Duration(req.TimeoutMs) * time.Millisecond
		p.timeoutTimer = time.AfterFunc(d, func() { m.onTimeout(p) })
	}

	m.sink.EmitBackgroundStatus(p.sessionID, types.BackgroundStatus{
		ProcessID: p.id, SessionID: p.sessionID, State: types.ProcessRunning,
	})

	return p.snapshot(), nil
}

func (m *Manager) pump(p *process, r interface{ Read([]byte) (int, error) }, stream types.OutputStream) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := p.ring.Write(stream, string(buf[:n]))
			m.sink.EmitBackgroundOutput(p.sessionID, types.BackgroundOutputEvent{
				ProcessID: p.id, SessionID: p.sessionID, Chunk: chunk,
			})
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) wait(p *process) {
	err := p.cmd.Wait()
	p.mu.Lock()
	now := time.Now()
	p.endedAt = &now
	if p.status == types.ProcessKilled || p.status == types.ProcessTimeout {
		p.mu.Unlock()
	} else {
		if err != nil {
			p.status = types.ProcessFailed
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code := exitErr.ExitCode()
				p.exitCode = &code
			}
		} else {
			p.status = types.ProcessCompleted
			code := 0
			p.exitCode = &code
		}
		p.mu.Unlock()
	}
	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
	}

	m.sink.EmitBackgroundStatus(p.sessionID, types.BackgroundStatus{
		ProcessID: p.id, SessionID: p.sessionID, State: p.state(), ExitCode: p.snapshot().ExitCode,
	})
}

func (m *Manager) onTimeout(p *process) {
	p.mu.Lock()
	if p.status != types.ProcessRunning {
		p.mu.Unlock()
		return
	}
	p.status = types.ProcessTimeout
	p.mu.Unlock()

	m.kill(p, syscall.SIGTERM)
	time.AfterFunc(m.cfg.KillGrace, func() {
		if p.cmd.ProcessState == nil {
			m.kill(p, syscall.SIGKILL)
		}
	})
}

// Kill sends signal to processID, escalating to SIGKILL after the grace
// period if it's not SIGKILL already.
func (m *Manager) Kill(processID string, signal syscall.Signal) error {
	m.mu.Lock()
	p, ok := m.procs[processID]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	p.mu.Lock()
	if p.status != types.ProcessRunning {
		p.mu.Unlock()
		return nil
	}
	p.status = types.ProcessKilled
	p.mu.Unlock()

	m.kill(p, signal)

	if signal != syscall.SIGKILL {
		time.AfterFunc(m.cfg.KillGrace, func() {
			if p.cmd.ProcessState == nil {
				m.kill(p, syscall.SIGKILL)
			}
		})
	}
	return nil
}

func (m *Manager) kill(p *process, signal syscall.Signal) {
	if p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(signal)
}

// KillSession terminates every process belonging to sessionID.
func (m *Manager) KillSession(sessionID string) {
	m.mu.Lock()
	var ids []string
	for id, p := range m.procs {
		if p.sessionID == sessionID && p.state() == types.ProcessRunning {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Kill(id, syscall.SIGTERM)
	}
}

// Status returns a snapshot of processID.
func (m *Manager) Status(processID string) (*types.BackgroundProcess, error) {
	m.mu.Lock()
	p, ok := m.procs[processID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return p.snapshot(), nil
}

// List returns a snapshot of every known process.
func (m *Manager) List() []*types.BackgroundProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.BackgroundProcess, 0, len(m.procs))
	for _, p := range m.procs {
		out = append(out, p.snapshot())
	}
	return out
}

// OutputRequest describes an output() call's parameters.
type OutputRequest struct {
	AfterSeq int64
	Limit    int
	Stream   types.OutputStream
}

// Output returns the matching output slice plus a hasMore flag.
func (m *Manager) Output(processID string, req OutputRequest) ([]types.OutputChunk, bool, error) {
	m.mu.Lock()
	p, ok := m.procs[processID]
	m.mu.Unlock()
	if !ok {
		return nil, false, ErrNotFound
	}
	return p.ring.After(req.AfterSeq, req.Limit, req.Stream)
}

func (m *Manager) pruneTerminal() {
	cutoff := time.Now().Add(-m.cfg.PruneAfter)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.procs {
		p.mu.Lock()
		terminal := p.status != types.ProcessRunning
		ended := p.endedAt
		p.mu.Unlock()
		if terminal && ended != nil && ended.Before(cutoff) {
			delete(m.procs, id)
		}
	}
}
