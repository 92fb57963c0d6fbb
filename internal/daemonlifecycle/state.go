// Package daemonlifecycle owns the daemon's on-disk state file, its
// ephemeral bearer token, the client-facing auto-start/stop helpers, and
// platform service-unit generation (spec §4.9).
//
// Grounded on the teacher's cmd/opencode-server/main.go bootstrap sequence
// (paths.EnsurePaths, config load, graceful-shutdown-on-signal ordering)
// and internal/config/paths.go for the on-disk layout this package writes
// into.
package daemonlifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/loopbackai/agentd/internal/config"
)

// State is the daemon's published contact record (spec §4.9/§6:
// state.<format>: {pid, daemonId, host, port, token, startedAt, logsPath}).
type State struct {
	PID       int    `json:"pid"`
	DaemonID  string `json:"daemonId"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Token     string `json:"token"`
	StartedAt int64  `json:"startedAt"`
	LogsPath  string `json:"logsPath"`
}

// WriteState atomically publishes the state file with user-only permissions.
func WriteState(paths *config.Paths, st State) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("daemonlifecycle: marshal state: %w", err)
	}

	path := paths.StateFilePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("daemonlifecycle: write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("daemonlifecycle: rename state: %w", err)
	}

	return os.WriteFile(paths.PIDFilePath(), []byte(fmt.Sprintf("%d", st.PID)), 0o600)
}

// ReadState loads the published state file, if any.
func ReadState(paths *config.Paths) (*State, error) {
	b, err := os.ReadFile(paths.StateFilePath())
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("daemonlifecycle: parse state: %w", err)
	}
	return &st, nil
}

// ClearState removes the state and PID files (spec §4.9: "removed on
// graceful shutdown"; also used by ensureRunning's crash-guardian path).
func ClearState(paths *config.Paths) {
	_ = os.Remove(paths.StateFilePath())
	_ = os.Remove(paths.PIDFilePath())
}

// NewState builds a fresh state record for a just-started daemon.
func NewState(daemonID, host string, port int, token, logsPath string) State {
	return State{
		PID:       os.Getpid(),
		DaemonID:  daemonID,
		Host:      host,
		Port:      port,
		Token:     token,
		StartedAt: time.Now().UnixMilli(),
		LogsPath:  logsPath,
	}
}
