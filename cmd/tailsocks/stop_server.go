package main

import (
	"github.com/spf13/cobra"
)

var stopServerCmd = &cobra.Command{
	Use:   "stop-server",
	Short: "Stop the tailscaled process for a profile",
	Long: `Sends tailscaled a graceful termination signal and escalates to a
forced kill after a grace period. Idempotent: stopping an already
stopped server succeeds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		name, err := resolveProfile(mgr, "stop-server")
		if err != nil {
			return err
		}
		return mgr.StopServer(cmd.Context(), name)
	},
}

func init() {
	rootCmd.AddCommand(stopServerCmd)
}
