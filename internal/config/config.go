package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/loopbackai/agentd/internal/logging"
)

// DaemonConfig holds the effective runtime configuration of the daemon.
// Port and Host take effect only when the server binds at startup; the
// remaining fields are the ones a Watch callback could apply live.
type DaemonConfig struct {
	Port    int    `json:"port" yaml:"port"`
	Host    string `json:"host" yaml:"host"`
	MaxBody int64  `json:"maxBody" yaml:"maxBody"`

	PermissionTimeout time.Duration `json:"permissionTimeout" yaml:"permissionTimeout"`
	PreflightTimeout  time.Duration `json:"preflightTimeout" yaml:"preflightTimeout"`
	PreflightCacheTTL time.Duration `json:"preflightCacheTTL" yaml:"preflightCacheTTL"`

	WorkerMin          int           `json:"workerMin" yaml:"workerMin"`
	WorkerMax          int           `json:"workerMax" yaml:"workerMax"`
	WorkerIdleTimeout  time.Duration `json:"workerIdleTimeout" yaml:"workerIdleTimeout"`
	WorkerReapInterval time.Duration `json:"workerReapInterval" yaml:"workerReapInterval"`

	BackgroundMaxConcurrent int           `json:"backgroundMaxConcurrent" yaml:"backgroundMaxConcurrent"`
	BackgroundMaxBuffer     int64         `json:"backgroundMaxBuffer" yaml:"backgroundMaxBuffer"`
	BackgroundKillGrace     time.Duration `json:"backgroundKillGrace" yaml:"backgroundKillGrace"`
	BackgroundPruneAfter    time.Duration `json:"backgroundPruneAfter" yaml:"backgroundPruneAfter"`

	SessionEvictAfter time.Duration `json:"sessionEvictAfter" yaml:"sessionEvictAfter"`
	SessionSweepEvery time.Duration `json:"sessionSweepEvery" yaml:"sessionSweepEvery"`

	ToolCacheMaxSize int           `json:"toolCacheMaxSize" yaml:"toolCacheMaxSize"`
	ToolCacheTTL     time.Duration `json:"toolCacheTTL" yaml:"toolCacheTTL"`

	StorageMinFreeBytes int64 `json:"storageMinFreeBytes" yaml:"storageMinFreeBytes"`

	// InferenceHTTPBase/InferenceWSURL point at the external inference
	// server internal/lmxdriver speaks to (spec §9: "an injected adapter,
	// not part of this spec" — these are this daemon's default adapter's
	// endpoints, not a spec-mandated wire contract).
	InferenceHTTPBase string `json:"inferenceHTTPBase" yaml:"inferenceHTTPBase"`
	InferenceWSURL    string `json:"inferenceWSURL" yaml:"inferenceWSURL"`
}

// Default returns the configuration spec.md §5 describes as defaults.
func Default() DaemonConfig {
	return DaemonConfig{
		Port:    9999,
		Host:    "127.0.0.1",
		MaxBody: 10 << 20,

		PermissionTimeout: 120 * time.Second,
		PreflightTimeout:  8 * time.Second,
		PreflightCacheTTL: 10 * time.Second,

		WorkerMin:          1,
		WorkerMax:          8,
		WorkerIdleTimeout:  60 * time.Second,
		WorkerReapInterval: 30 * time.Second,

		BackgroundMaxConcurrent: 5,
		BackgroundMaxBuffer:     1 << 20,
		BackgroundKillGrace:     5 * time.Second,
		BackgroundPruneAfter:    5 * time.Minute,

		SessionEvictAfter: 30 * time.Minute,
		SessionSweepEvery: 5 * time.Minute,

		ToolCacheMaxSize: 500,
		ToolCacheTTL:     5 * time.Minute,

		StorageMinFreeBytes: 64 << 20,

		InferenceHTTPBase: "http://127.0.0.1:1234",
		InferenceWSURL:    "ws://127.0.0.1:1234/v1/chat/stream",
	}
}

// Load reads the global config, then the project config (if directory is
// non-empty), then applies environment overrides, in increasing priority.
// Each location is read as agentd.jsonc and then as an agentd.yaml beside
// it, so fields set in the YAML file win over the JSONC file.
func Load(directory string) (DaemonConfig, error) {
	cfg := Default()

	_ = godotenv.Load() // local dev convenience; absence is not an error

	loadFile(GlobalConfigPath(), &cfg)
	loadFile(globalYAMLPath(), &cfg)

	if directory != "" {
		loadFile(ProjectConfigPath(directory), &cfg)
		loadFile(projectYAMLPath(directory), &cfg)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func globalYAMLPath() string {
	return filepath.Join(GetPaths().Config, "agentd.yaml")
}

func projectYAMLPath(directory string) string {
	return filepath.Join(directory, ".agentd", "agentd.yaml")
}

func loadFile(path string, cfg *DaemonConfig) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("failed to parse yaml config")
		}
	default:
		clean := jsonc.ToJSON(data)
		if err := json.Unmarshal(clean, cfg); err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("failed to parse jsonc config")
		}
	}
}

func applyEnvOverrides(cfg *DaemonConfig) {
	if v := os.Getenv("AGENTD_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("AGENTD_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("AGENTD_INFERENCE_HTTP_BASE"); v != "" {
		cfg.InferenceHTTPBase = v
	}
	if v := os.Getenv("AGENTD_INFERENCE_WS_URL"); v != "" {
		cfg.InferenceWSURL = v
	}
}

// Watch calls onChange whenever the global or project config file changes on
// disk. Only the hot-reloadable subset of DaemonConfig is expected to be
// applied by callers; Port/Host changes require a restart.
func Watch(directory string, onChange func(DaemonConfig)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watchDirs := map[string]struct{}{
		GetPaths().Config: {},
	}
	if directory != "" {
		watchDirs[filepath.Join(directory, ".agentd")] = struct{}{}
	}
	for dir := range watchDirs {
		_ = os.MkdirAll(dir, 0755)
		if err := watcher.Add(dir); err != nil {
			logging.Warn().Err(err).Str("dir", dir).Msg("config watch failed")
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(directory)
				if err != nil {
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return watcher, nil
}
