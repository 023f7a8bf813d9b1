package main

import (
	"github.com/spf13/cobra"
)

var flagBind string

var startServerCmd = &cobra.Command{
	Use:   "start-server",
	Short: "Start the tailscaled process for a profile",
	Long: `Launches tailscaled with the profile's own state directory, control
socket, and SOCKS5 listener. Creates the profile (directories plus a
default config.yaml) on first use; without --profile a random name is
generated.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}

		// An omitted profile means "create a fresh one" here, unlike the
		// other verbs which target an existing profile.
		_, err = mgr.StartServer(cmd.Context(), profileName, flagBind)
		return err
	},
}

func init() {
	startServerCmd.Flags().StringVar(&flagBind, "bind", "", "Bind address and port (format: address:port or just port)")
	rootCmd.AddCommand(startServerCmd)
}
