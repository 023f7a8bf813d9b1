package manager

import "errors"

// Profile-level failures. Lower layers carry their own sentinels
// (profile.ErrNotFound, profile.ErrLockContended, bindaddr.ErrPortUnavailable,
// supervisor.ErrLaunchFailed, supervisor.ErrTerminationFailed,
// supervisor.ErrTimeout); everything is recoverable at the CLI boundary
// and maps to a distinct exit code there.
var (
	ErrAlreadyRunning      = errors.New("tailscaled is already running")
	ErrServerNotRunning    = errors.New("tailscaled is not running")
	ErrProfileStillRunning = errors.New("profile is still running")
	ErrBindUnavailable     = errors.New("bind address unavailable")
	ErrConfigInvalid       = errors.New("invalid configuration")
)
