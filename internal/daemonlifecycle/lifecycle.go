package daemonlifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/loopbackai/agentd/internal/config"
)

// ErrDaemonNotRunning is returned by Stop when no state file is present.
var ErrDaemonNotRunning = errors.New("daemonlifecycle: daemon not running")

// ContractName, together with EnsureRunningConfig.ContractVersion, identifies
// this daemon to ensureRunning's health-contract check (spec §4.9: "responds
// OK with matching contract").
const ContractName = "agentd"

// EnsureRunningConfig parameterizes the auto-start helper.
type EnsureRunningConfig struct {
	Paths         *config.Paths
	ContractVersion string
	BinaryPath    string
	ExtraArgs     []string
	ReadyTimeout  time.Duration
	PollInterval  time.Duration
}

func (c EnsureRunningConfig) withDefaults() EnsureRunningConfig {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// healthContract mirrors handlers_health.go's healthV3Response.Contract.
type healthContract struct {
	Contract struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"contract"`
}

// EnsureRunning is the client-facing auto-start helper (spec §4.9): if a
// live daemon matching the expected contract is already up, return its
// state; otherwise clear any stale state and spawn a fresh detached daemon,
// polling until it reports ready.
func EnsureRunning(ctx context.Context, cfg EnsureRunningConfig) (*State, error) {
	cfg = cfg.withDefaults()

	if st, err := ReadState(cfg.Paths); err == nil {
		if processAlive(st.PID) && healthOK(st, cfg.ContractVersion) {
			return st, nil
		}
		ClearState(cfg.Paths)
	}

	cmd := exec.Command(cfg.BinaryPath, cfg.ExtraArgs...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("daemonlifecycle: spawn daemon: %w", err)
	}
	_ = cmd.Process.Release()

	deadline := time.Now().Add(cfg.ReadyTimeout)
	for time.Now().Before(deadline) {
		if st, err := ReadState(cfg.Paths); err == nil {
			if processAlive(st.PID) && healthOK(st, cfg.ContractVersion) {
				return st, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}

	return nil, fmt.Errorf("daemonlifecycle: daemon did not become ready within %s", cfg.ReadyTimeout)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func healthOK(st *State, wantVersion string) bool {
	url := fmt.Sprintf("http://%s:%d/v3/health?token=%s", st.Host, st.Port, st.Token)
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var body healthContract
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Contract.Name == ContractName && (wantVersion == "" || body.Contract.Version == wantVersion)
}

// StopConfig parameterizes Stop's grace window.
type StopConfig struct {
	Paths      *config.Paths
	GracePeriod time.Duration
}

// Stop sends SIGTERM, waits up to GracePeriod, escalates to SIGKILL, then
// clears the state file regardless of which signal ultimately landed (spec
// §4.9: "stop sends SIGTERM, waits up to a grace period, then SIGKILL, then
// clears state").
func Stop(cfg StopConfig) error {
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}

	st, err := ReadState(cfg.Paths)
	if err != nil {
		return ErrDaemonNotRunning
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		ClearState(cfg.Paths)
		return nil
	}

	_ = proc.Signal(syscall.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(st.PID) {
			ClearState(cfg.Paths)
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	_ = proc.Signal(syscall.SIGKILL)
	ClearState(cfg.Paths)
	return nil
}
