// flowpad
//
// A sandbox control plane for a workflow-coding assistant: one-shot commands
// and background services in disposable containers, over a read-only
// scratchpad of agent-authored scripts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "flowpad",
	Short: "flowpad - sandboxed command and service runner",
	Long: `flowpad runs commands and background services inside disposable Docker
containers that mount a shared scratchpad read-only.

  flowpad serve                           Start the tool server
  flowpad run -- python scratchpad/x.py   Run a one-shot command
  flowpad svc start "sleep 100"           Start a background service
  flowpad svc stop <container-id>         Stop a background service
  flowpad svc list                        List known services
  flowpad scripts list                    List scratchpad scripts`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("FLOWPAD_SERVER", "http://localhost:7080"), "flowpad server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
