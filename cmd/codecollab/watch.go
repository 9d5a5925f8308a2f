package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"codecollab/internal/client"
	"codecollab/internal/core"
	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	var (
		url      string
		username string
	)
	cmd := &cobra.Command{
		Use:   "watch SESSION_ID",
		Short: "Join a session and print every update as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogger(cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := json.NewEncoder(cmd.OutOrStdout())
			return client.Watch(ctx, url, args[0], username, func(msg core.Envelope) {
				if err := out.Encode(msg); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
				}
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:3000/ws", "server websocket url")
	cmd.Flags().StringVar(&username, "username", "watcher", "display name")
	return cmd
}
