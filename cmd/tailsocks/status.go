package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tailsocks/internal/manager"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show status of profiles",
	Long: `Displays per-profile state: whether tailscaled is alive, whether the
session is up, the active SOCKS5 bind address, and the profile
directories. Liveness is probed, not read from stale state, so a
crashed daemon is reported as down. Querying an unknown profile
reports "not configured" instead of failing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}

		if profileName != "" {
			printStatus(mgr.Status(cmd.Context(), profileName))
			return nil
		}

		statuses := mgr.StatusAll(cmd.Context())
		if len(statuses) == 0 {
			fmt.Println("No profiles found")
			return nil
		}

		fmt.Printf("Found %d profile(s):\n\n", len(statuses))
		for _, status := range statuses {
			printStatus(status)
			fmt.Println()
		}
		return nil
	},
}

func printStatus(status manager.ProfileStatus) {
	fmt.Printf("\033[1mProfile: %s\033[0m\n", status.Name)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if !status.Configured {
		fmt.Fprintln(w, "  Status:\tnot configured")
		w.Flush()
		return
	}

	fmt.Fprintf(w, "  Server running:\t%s\n", yesNo(status.ServerRunning))
	fmt.Fprintf(w, "  Session up:\t%s\n", yesNo(status.SessionUp))
	fmt.Fprintf(w, "  Bind address:\t%s\n", status.Bind)
	fmt.Fprintf(w, "  IP address:\t%s\n", status.IPAddress)
	fmt.Fprintf(w, "  Config directory:\t%s\n", status.ConfigDir)
	fmt.Fprintf(w, "  Cache directory:\t%s\n", status.CacheDir)
	if status.LastStarted != "" {
		fmt.Fprintf(w, "  Last started:\t%s\n", status.LastStarted)
	}
	fmt.Fprintf(w, "  Using auth token:\t%s\n", yesNo(status.UsingAuthToken))
	w.Flush()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
