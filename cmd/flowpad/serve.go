package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowpad-ai/flowpad"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the flowpad tool server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := flowpad.NewBuilder().Build()
		if err != nil {
			return err
		}
		return app.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
