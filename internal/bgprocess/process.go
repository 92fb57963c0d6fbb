package bgprocess

import (
	"os/exec"
	"sync"
	"time"

	"github.com/loopbackai/agentd/pkg/types"
)

type process struct {
	id        string
	sessionID string
	cmd       *exec.Cmd
	command   string
	cwd       string
	label     string
	startedAt time.Time

	timeoutTimer *time.Timer
	ring         *ringBuffer

	mu       sync.Mutex
	status   types.ProcessState
	endedAt  *time.Time
	exitCode *int
}

func (p *process) state() types.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *process) snapshot() *types.BackgroundProcess {
	p.mu.Lock()
	defer p.mu.Unlock()

	bp := &types.BackgroundProcess{
		ID:        p.id,
		SessionID: p.sessionID,
		Command:   p.command,
		Cwd:       p.cwd,
		Label:     p.label,
		State:     p.status,
		StartedAt: p.startedAt.UnixMilli(),
	}
	if p.cmd.Process != nil {
		bp.PID = p.cmd.Process.Pid
	}
	if p.endedAt != nil {
		ms := p.endedAt.UnixMilli()
		bp.EndedAt = &ms
	}
	if p.exitCode != nil {
		bp.ExitCode = p.exitCode
	}
	return bp
}
