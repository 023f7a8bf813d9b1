package main

import (
	"github.com/spf13/cobra"

	"tailsocks/internal/logger"
)

var deleteProfileCmd = &cobra.Command{
	Use:   "delete-profile",
	Short: "Delete a profile completely",
	Long: `Removes the profile's configuration and cache directories.
Irreversible. Fails while the profile's tailscaled is still running;
stop the server first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		name, err := resolveProfile(mgr, "delete-profile")
		if err != nil {
			return err
		}

		if err := mgr.DeleteProfile(cmd.Context(), name); err != nil {
			return err
		}
		logger.Log.Infof("Profile '%s' has been deleted", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteProfileCmd)
}
