package main

import (
	"github.com/spf13/cobra"
)

var stopSessionCmd = &cobra.Command{
	Use:   "stop-session",
	Short: "Tear down the tailscale session",
	Long:  `Runs 'tailscale down' against the profile's daemon socket. The daemon keeps running; stopping an already-down session succeeds.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		name, err := resolveProfile(mgr, "stop-session")
		if err != nil {
			return err
		}
		return mgr.StopSession(cmd.Context(), name)
	},
}

func init() {
	rootCmd.AddCommand(stopSessionCmd)
}
