// Package config provides configuration loading and path management for the daemon.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard paths for agentd data.
type Paths struct {
	Data   string // ~/.local/share/agentd
	Config string // ~/.config/agentd
	Cache  string // ~/.cache/agentd
	State  string // ~/.local/state/agentd
}

// GetPaths returns the standard paths for agentd data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "agentd"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "agentd"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "agentd"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "agentd"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// SessionsPath returns the root directory for per-session event stores.
func (p *Paths) SessionsPath() string {
	return filepath.Join(p.Data, "sessions")
}

// StateFilePath returns the path to the daemon state file.
func (p *Paths) StateFilePath() string {
	return filepath.Join(p.State, "state.json")
}

// TokenFilePath returns the path to the raw-token file (user-only mode bits).
func (p *Paths) TokenFilePath() string {
	return filepath.Join(p.State, "token")
}

// PIDFilePath returns the path to the PID mirror file.
func (p *Paths) PIDFilePath() string {
	return filepath.Join(p.State, "daemon.pid")
}

// LogLinesPath returns the path to the structured log-lines file.
func (p *Paths) LogLinesPath() string {
	return filepath.Join(p.State, "daemon.log-lines")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "agentd.jsonc")
}

// ProjectConfigPath returns the path to a project-local config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".agentd", "agentd.jsonc")
}
