package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loopbackai/agentd/internal/config"
	"github.com/loopbackai/agentd/internal/daemonlifecycle"
)

var stopGrace time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon",
	Long: `Send SIGTERM to the running daemon (per the published state file),
wait up to --grace for it to exit, then escalate to SIGKILL.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopGrace, "grace", 5*time.Second, "Grace period before SIGKILL")
}

func runStop(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()

	err := daemonlifecycle.Stop(daemonlifecycle.StopConfig{
		Paths:       paths,
		GracePeriod: stopGrace,
	})
	if errors.Is(err, daemonlifecycle.ErrDaemonNotRunning) {
		fmt.Println("agentd is not running")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println("agentd stopped")
	return nil
}
