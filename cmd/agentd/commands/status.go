package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/loopbackai/agentd/internal/config"
	"github.com/loopbackai/agentd/internal/daemonlifecycle"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a daemon is running",
	RunE:  runStatus,
}

type healthV3Response struct {
	DaemonID string `json:"daemonId"`
	Version  string `json:"version"`
	UptimeMs int64  `json:"uptimeMs"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()

	st, err := daemonlifecycle.ReadState(paths)
	if err != nil {
		fmt.Println("agentd is not running")
		return nil
	}

	url := fmt.Sprintf("http://%s:%d/v3/health?token=%s", st.Host, st.Port, st.Token)
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("agentd state file is stale (no response from", st.Host, "port", st.Port, ")")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("agentd responded with status %d\n", resp.StatusCode)
		return nil
	}

	var body healthV3Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}

	fmt.Printf("agentd running: pid=%d daemonId=%s version=%s host=%s port=%d uptime=%s\n",
		st.PID, body.DaemonID, body.Version, st.Host, st.Port, time.Duration(body.UptimeMs)*time.Millisecond)
	return nil
}
