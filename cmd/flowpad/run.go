package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runImage string

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Run a one-shot command in a fresh sandbox container",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := struct {
			Argv  []string `json:"argv"`
			Image string   `json:"image,omitempty"`
		}{Argv: args, Image: runImage}

		var resp struct {
			Output string `json:"output"`
			OK     bool   `json:"ok"`
		}
		if err := apiDo("POST", "/api/commands", req, &resp); err != nil {
			return err
		}
		fmt.Print(resp.Output)
		if resp.Output != "" && resp.Output[len(resp.Output)-1] != '\n' {
			fmt.Println()
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runImage, "image", "", "override the sandbox image for this command")
	rootCmd.AddCommand(runCmd)
}
