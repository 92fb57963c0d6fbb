package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/loopbackai/agentd/internal/bgprocess"
	"github.com/loopbackai/agentd/internal/config"
	"github.com/loopbackai/agentd/internal/daemonlifecycle"
	"github.com/loopbackai/agentd/internal/eventstore"
	"github.com/loopbackai/agentd/internal/lmxdriver"
	"github.com/loopbackai/agentd/internal/logging"
	"github.com/loopbackai/agentd/internal/mcptool"
	"github.com/loopbackai/agentd/internal/permission"
	"github.com/loopbackai/agentd/internal/server"
	"github.com/loopbackai/agentd/internal/session"
	"github.com/loopbackai/agentd/internal/tool"
	"github.com/loopbackai/agentd/internal/toolpool"
)

var serveDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon in the foreground",
	Long: `Start agentd as a foreground process, bound to a loopback address,
exposing the HTTP/WebSocket/SSE control plane described in the daemon's
contract until it receives SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory for tool execution and project config")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	daemonID := ulid.Make().String()

	logging.Init(logging.Config{
		Level:     logging.ParseLevel(logLevel),
		Output:    os.Stderr,
		Pretty:    printLogs,
		LogToFile: logFile,
		LogDir:    paths.State,
		DaemonID:  daemonID,
	})

	logging.Info().Str("version", Version).Str("daemonId", daemonID).Msg("starting agentd")
	logging.Info().Str("directory", workDir).Msg("working directory")

	store, err := eventstore.New(paths.SessionsPath(), cfg.StorageMinFreeBytes)
	if err != nil {
		return err
	}

	perm := permission.New(cfg.PermissionTimeout)

	toolReg := tool.DefaultRegistry(workDir)
	mcpClient := mcptool.NewClient()
	loadMCPServers(cmd.Context(), paths, mcpClient, toolReg)

	pool := toolpool.New(&registryExecutor{registry: toolReg}, toolpool.Config{
		MinWorkers: cfg.WorkerMin,
		MaxWorkers: cfg.WorkerMax,
		IdleAfter:  cfg.WorkerIdleTimeout,
	})
	pool.WarmUp()

	driver := lmxdriver.New(cfg.InferenceHTTPBase, cfg.InferenceWSURL)
	preflt := session.NewCachingPreflight(driver, cfg.PreflightCacheTTL, cfg.PreflightTimeout)

	sessions := session.NewManager(daemonID, store, perm, driver, preflt, pool, cfg.ToolCacheMaxSize, cfg.ToolCacheTTL, session.SweepConfig{
		EvictAfter: cfg.SessionEvictAfter,
		SweepEvery: cfg.SessionSweepEvery,
	})

	bg := bgprocess.New(bgprocess.Config{
		MaxConcurrent: cfg.BackgroundMaxConcurrent,
		MaxBufferSize: cfg.BackgroundMaxBuffer,
		KillGrace:     cfg.BackgroundKillGrace,
		PruneAfter:    cfg.BackgroundPruneAfter,
	}, &sessionEventSink{sessions: sessions})

	token, err := daemonlifecycle.MintToken()
	if err != nil {
		return err
	}
	if err := daemonlifecycle.WriteTokenFile(paths, token); err != nil {
		return err
	}

	srv, err := server.New(&server.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Token:        token,
		DaemonID:     daemonID,
		Version:      Version,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	}, sessions, bg)
	if err != nil {
		return err
	}

	if err := daemonlifecycle.WriteState(paths, daemonlifecycle.NewState(
		daemonID, cfg.Host, cfg.Port, token, paths.LogLinesPath(),
	)); err != nil {
		return err
	}
	defer daemonlifecycle.ClearState(paths)

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("daemon listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logging.Info().Msg("shutting down")
	case err := <-errCh:
		logging.Error().Err(err).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}
	bg.Close()
	sessions.Close()
	_ = mcpClient.Close()

	logging.Info().Msg("daemon stopped")
	return nil
}

// loadMCPServers reads an optional map of named MCP server configs from
// <configDir>/mcp.json and adds each, registering its tools into registry.
// Absence of the file is not an error: MCP tool sourcing is optional.
func loadMCPServers(ctx context.Context, paths *config.Paths, client *mcptool.Client, registry *tool.Registry) {
	data, err := os.ReadFile(paths.Config + "/mcp.json")
	if err != nil {
		return
	}

	var servers map[string]*mcptool.Config
	if err := json.Unmarshal(data, &servers); err != nil {
		logging.Warn().Err(err).Msg("failed to parse mcp.json")
		return
	}

	for name, srvCfg := range servers {
		if err := client.AddServer(ctx, name, srvCfg); err != nil {
			logging.Warn().Err(err).Str("server", name).Msg("failed to add MCP server")
		}
	}
	mcptool.RegisterTools(client, registry)
	logging.Info().Int("mcpServers", client.ServerCount()).Msg("MCP servers loaded")
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
