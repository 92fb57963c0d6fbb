package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withHome(t *testing.T, dir string) {
	t.Helper()
	old := os.Getenv("HOME")
	oldXDG, hadXDG := os.LookupEnv("XDG_CONFIG_HOME")
	os.Setenv("HOME", dir)
	os.Unsetenv("XDG_CONFIG_HOME")
	t.Cleanup(func() {
		os.Setenv("HOME", old)
		if hadXDG {
			os.Setenv("XDG_CONFIG_HOME", oldXDG)
		} else {
			os.Unsetenv("XDG_CONFIG_HOME")
		}
	})
}

func TestLoadReturnsDefaultsWithNoConfigFiles(t *testing.T) {
	withHome(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default().Port, cfg.Port)
	assert.Equal(t, Default().Host, cfg.Host)
	assert.Equal(t, Default().WorkerMax, cfg.WorkerMax)
}

func TestLoadParsesGlobalJSONC(t *testing.T) {
	home := t.TempDir()
	withHome(t, home)

	cfg := Default()
	configDir := filepath.Join(home, ".config", "agentd")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "agentd.jsonc"), []byte(`{
		// worker pool tuning
		"workerMax": 16,
		"backgroundMaxConcurrent": 3
	}`), 0644))

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, loaded.WorkerMax)
	assert.Equal(t, 3, loaded.BackgroundMaxConcurrent)
	assert.Equal(t, cfg.Port, loaded.Port)
}

func TestLoadParsesGlobalYAML(t *testing.T) {
	home := t.TempDir()
	withHome(t, home)

	configDir := filepath.Join(home, ".config", "agentd")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "agentd.yaml"), []byte("port: 9001\nhost: 0.0.0.0\n"), 0644))

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9001, loaded.Port)
	assert.Equal(t, "0.0.0.0", loaded.Host)
}

func TestLoadProjectConfigOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	withHome(t, home)

	globalDir := filepath.Join(home, ".config", "agentd")
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "agentd.jsonc"), []byte(`{"workerMax": 4}`), 0644))

	project := t.TempDir()
	projectDir := filepath.Join(project, ".agentd")
	require.NoError(t, os.MkdirAll(projectDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "agentd.jsonc"), []byte(`{"workerMax": 12}`), 0644))

	loaded, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.WorkerMax)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	withHome(t, t.TempDir())

	os.Setenv("AGENTD_PORT", "7777")
	os.Setenv("AGENTD_HOST", "192.168.1.1")
	defer os.Unsetenv("AGENTD_PORT")
	defer os.Unsetenv("AGENTD_HOST")

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, loaded.Port)
	assert.Equal(t, "192.168.1.1", loaded.Host)
}

func TestLoadIgnoresMalformedConfigFile(t *testing.T) {
	home := t.TempDir()
	withHome(t, home)

	configDir := filepath.Join(home, ".config", "agentd")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "agentd.jsonc"), []byte(`{ not valid json`), 0644))

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Port, loaded.Port)
}

func TestDefaultTimeouts(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 120*time.Second, cfg.PermissionTimeout)
	assert.Equal(t, 8*time.Second, cfg.PreflightTimeout)
	assert.Equal(t, 5*time.Minute, cfg.BackgroundPruneAfter)
}
