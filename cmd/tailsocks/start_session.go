package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tailsocks/internal/logger"
)

var flagAuthToken string

var startSessionCmd = &cobra.Command{
	Use:   "start-session",
	Short: "Authenticate and bring the tailscale session up",
	Long: `Runs 'tailscale up' against the profile's daemon socket. The auth
token is taken from --auth-token, then the TAILSCALE_AUTH_TOKEN
environment variable, then the profile config. Without a token the
login URL printed by tailscale is passed through.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		name, err := resolveProfile(mgr, "start-session")
		if err != nil {
			return err
		}

		out, err := mgr.StartSession(cmd.Context(), name, flagAuthToken)
		if err != nil {
			return err
		}

		if strings.Contains(out, "To authenticate, visit:") {
			fmt.Print(out)
		} else {
			logger.Log.Info("Tailscale session started successfully")
		}
		return nil
	},
}

func init() {
	startSessionCmd.Flags().StringVar(&flagAuthToken, "auth-token", "", "Tailscale authentication token")
	rootCmd.AddCommand(startSessionCmd)
}
