package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/velora-app/callkit/internal/devserver"
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run the local signaling server",
	Long:  "Serves the call REST API and the /ws signaling endpoint for local development.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return devserver.New(cfg, logger).Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(devserverCmd)
}
