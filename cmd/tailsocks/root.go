package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tailsocks/internal/bindaddr"
	"tailsocks/internal/logger"
	"tailsocks/internal/manager"
	"tailsocks/internal/profile"
	"tailsocks/internal/supervisor"
)

var profileName string
var verbose bool
var logFile string

var rootCmd = &cobra.Command{
	Use:   "tailsocks",
	Short: "Manage multiple isolated Tailscale SOCKS5 proxy profiles",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(verbose, logFile)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps each failure kind to a distinct code so scripts can
// branch on the outcome.
func exitCode(err error) int {
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return 2
	case errors.Is(err, manager.ErrAlreadyRunning):
		return 3
	case errors.Is(err, manager.ErrServerNotRunning):
		return 4
	case errors.Is(err, manager.ErrProfileStillRunning):
		return 5
	case errors.Is(err, manager.ErrBindUnavailable):
		return 6
	case errors.Is(err, bindaddr.ErrPortUnavailable):
		return 7
	case errors.Is(err, supervisor.ErrLaunchFailed):
		return 8
	case errors.Is(err, supervisor.ErrTerminationFailed):
		return 9
	case errors.Is(err, supervisor.ErrTimeout):
		return 10
	case errors.Is(err, manager.ErrConfigInvalid), errors.Is(err, bindaddr.ErrInvalidSpec):
		return 11
	case errors.Is(err, profile.ErrLockContended):
		return 12
	default:
		return 1
	}
}

func newManager() (*manager.Manager, error) {
	store, err := profile.NewStore()
	if err != nil {
		return nil, err
	}
	return manager.New(store), nil
}

// resolveProfile picks the profile for verbs that need an existing one.
// With no --profile flag: a single existing profile is used implicitly,
// none or several is an error the user has to resolve.
func resolveProfile(mgr *manager.Manager, verb string) (string, error) {
	if profileName != "" {
		return profileName, nil
	}

	names := mgr.Store().List()
	switch len(names) {
	case 0:
		return "", fmt.Errorf("%w: no profiles exist, create one with 'start-server' first", profile.ErrNotFound)
	case 1:
		logger.Log.Infof("Using the only existing profile: %s", names[0])
		return names[0], nil
	default:
		return "", fmt.Errorf("multiple profiles exist, pass --profile to '%s' (available: %v)", verb, names)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "", "Profile name (random name is generated by start-server if not provided)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (overwrites file)")
}
