package main

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/quicksync/internal/signaling"
)

func newRelayCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a WebSocket signaling relay",
		Long:  `relay forwards signals between devices of the same session. It never sees message content.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return signaling.NewRelay().ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":3000", "Listen address")
	return cmd
}
