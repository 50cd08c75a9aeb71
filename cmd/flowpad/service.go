package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
)

var (
	svcRetries  int
	svcInterval time.Duration
)

var svcCmd = &cobra.Command{
	Use:   "svc",
	Short: "Manage background services",
}

var svcStartCmd = &cobra.Command{
	Use:   "start <command>",
	Short: "Start a background service in a detached sandbox container",
	Long: `Start a background service. The command is a single quoted string,
split shell-style:

  flowpad svc start "python scratchpad/eth_price_checker.py"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		argv, err := shellquote.Split(args[0])
		if err != nil {
			return fmt.Errorf("parsing command: %w", err)
		}

		req := struct {
			Argv          []string `json:"argv"`
			MaxRetries    int      `json:"max_retries,omitempty"`
			RetryInterval string   `json:"retry_interval,omitempty"`
		}{Argv: argv, MaxRetries: svcRetries}
		if svcInterval > 0 {
			req.RetryInterval = svcInterval.String()
		}

		var resp struct {
			Message string `json:"message"`
		}
		if err := apiDo("POST", "/api/services", req, &resp); err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

var svcStopCmd = &cobra.Command{
	Use:   "stop <container-id>",
	Short: "Stop a background service and reclaim its container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Message string `json:"message"`
		}
		if err := apiDo("POST", "/api/services/"+args[0]+"/stop", struct{}{}, &resp); err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

var svcListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known background services",
	RunE: func(cmd *cobra.Command, args []string) error {
		var services []struct {
			ID          string    `json:"id"`
			Command     string    `json:"command"`
			Status      string    `json:"status"`
			RetriesUsed int       `json:"retries_used"`
			CreatedAt   time.Time `json:"created_at"`
		}
		if err := apiDo("GET", "/api/services", nil, &services); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tRETRIES\tCREATED\tCOMMAND")
		for _, svc := range services {
			id := svc.ID
			if len(id) > 12 {
				id = id[:12]
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
				id, svc.Status, svc.RetriesUsed,
				svc.CreatedAt.Local().Format("2006-01-02 15:04:05"), svc.Command)
		}
		return tw.Flush()
	},
}

func init() {
	svcStartCmd.Flags().IntVar(&svcRetries, "retries", 0, "status polls before giving up (default: server setting)")
	svcStartCmd.Flags().DurationVar(&svcInterval, "interval", 0, "sleep between polls (default: server setting)")
	svcCmd.AddCommand(svcStartCmd, svcStopCmd, svcListCmd)
	rootCmd.AddCommand(svcCmd)
}
