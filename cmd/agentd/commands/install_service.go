package commands

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/loopbackai/agentd/internal/daemonlifecycle"
)

var installServicePlatform string

var installServiceCmd = &cobra.Command{
	Use:   "install-service",
	Short: "Print a platform service-unit definition for this binary",
	Long: `Render a launchd plist, systemd user unit, or Windows Task
Scheduler XML that runs "agentd serve" at login. Installing the
rendered file (copying it into the platform's service directory and
invoking launchctl/systemctl/schtasks) is left to the caller.`,
	RunE: runInstallService,
}

func init() {
	installServiceCmd.Flags().StringVar(&installServicePlatform, "platform", runtime.GOOS, "Target platform (darwin|linux|windows)")
}

func runInstallService(cmd *cobra.Command, args []string) error {
	binaryPath, err := os.Executable()
	if err != nil {
		return err
	}

	spec := daemonlifecycle.ServiceSpec{
		Label:      "ai.agentd.daemon",
		BinaryPath: binaryPath,
		Args:       []string{"serve"},
	}

	var out string
	switch installServicePlatform {
	case "darwin":
		out, err = daemonlifecycle.GenerateLaunchd(spec)
	case "linux":
		out, err = daemonlifecycle.GenerateSystemdUserUnit(spec)
	case "windows":
		out, err = daemonlifecycle.GenerateWindowsTaskXML(spec)
	default:
		return fmt.Errorf("commands: unsupported platform %q", installServicePlatform)
	}
	if err != nil {
		return err
	}

	fmt.Println(out)
	return nil
}
