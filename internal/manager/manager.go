// Package manager sequences profile operations across the store, the
// port allocator, and the process supervisor, and enforces the
// profile-level invariants: at most one daemon per profile, stop before
// delete, and mutual exclusion of concurrent mutating invocations.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tailsocks/internal/bindaddr"
	"tailsocks/internal/config"
	"tailsocks/internal/logger"
	"tailsocks/internal/profile"
	"tailsocks/internal/supervisor"
)

type Manager struct {
	store *profile.Store

	// Bounded waits. Exported so tests can shrink them.
	LockWait       time.Duration
	Grace          time.Duration
	ReadyTimeout   time.Duration
	SessionTimeout time.Duration
	StatusTimeout  time.Duration
}

func New(store *profile.Store) *Manager {
	return &Manager{
		store:          store,
		LockWait:       5 * time.Second,
		Grace:          5 * time.Second,
		ReadyTimeout:   15 * time.Second,
		SessionTimeout: 2 * time.Minute,
		StatusTimeout:  2 * time.Second,
	}
}

// Store exposes the underlying profile store for name resolution at the CLI.
func (m *Manager) Store() *profile.Store { return m.store }

// launchAttempts bounds relaunches when an auto-selected port is claimed
// by someone else between our probe and the daemon's own bind.
const launchAttempts = 3

// StartServer launches tailscaled for the profile, creating the profile
// on first use. An empty name generates a random one; the chosen name is
// returned. bindSpec comes from the CLI and overrides the config file.
func (m *Manager) StartServer(ctx context.Context, name, bindSpec string) (string, error) {
	if name == "" {
		name = m.store.RandomName()
		logger.Log.Infof("Generated profile name: %s", name)
	}

	lock, err := m.lock(ctx, name)
	if err != nil {
		return name, err
	}
	defer lock.Unlock()

	cfg, created, err := m.loadOrCreateConfig(name)
	if err != nil {
		return name, err
	}
	if created {
		logger.Log.Infof("Created default configuration at %s", m.store.ConfigPath(name))
	}

	state := m.store.LoadState(name)
	handle := supervisor.Handle{PID: state.DaemonPID, StartedAt: state.DaemonStarted}
	if supervisor.Alive(handle) {
		return name, fmt.Errorf("%w for profile %s (PID %d)", ErrAlreadyRunning, name, handle.PID)
	}

	spec, explicit, err := m.resolveBindSpec(name, bindSpec, cfg)
	if err != nil {
		return name, err
	}

	socketPath := cfg.SocketPath
	logPath := filepath.Join(m.store.CacheDir(name), "tailscaled.log")

	for attempt := 1; ; attempt++ {
		resolved, err := m.allocate(spec, explicit)
		if err != nil {
			return name, err
		}
		if resolved.Port != spec.Port && spec.Port != 0 {
			logger.Log.Infof("Port %d is already in use, using port %d instead", spec.Port, resolved.Port)
		}

		handle, err = m.launchDaemon(ctx, name, cfg, resolved, socketPath, logPath)
		if err == nil {
			logger.Log.Infof("Tailscaled started with PID %d", handle.PID)
			logger.Log.Infof("SOCKS5 proxy will be available at %s", resolved)
			return name, nil
		}

		// A late port conflict shows up as the daemon starting and then
		// dying on bind. That is the one retryable launch failure; a
		// missing or broken binary fails immediately.
		if explicit || attempt >= launchAttempts || !errors.Is(err, supervisor.ErrDaemonExited) {
			return name, err
		}
		logger.Log.Debugf("Launch attempt %d failed (%v), reallocating port", attempt, err)
	}
}

// launchDaemon starts tailscaled on the resolved bind address and
// persists the process handle before waiting for readiness, so an
// interrupted invocation never leaves an untracked orphan.
func (m *Manager) launchDaemon(ctx context.Context, name string, cfg config.Config, bind bindaddr.Spec, socketPath, logPath string) (supervisor.Handle, error) {
	// A dead daemon can leave its socket file behind; it would satisfy
	// the readiness check immediately.
	_ = os.Remove(socketPath)

	args := []string{
		"--state", filepath.Join(m.store.CacheDir(name), "tailscale.state"),
		"--socket", socketPath,
		"--socks5-server", bind.String(),
		"--tun=userspace-networking",
	}
	args = append(args, cfg.TailscaledArgs...)

	logger.Log.Debugf("Starting tailscaled: %s %v", cfg.TailscaledPath, args)
	handle, err := supervisor.Launch(cfg.TailscaledPath, args, m.store.CacheDir(name), logPath)
	if err != nil {
		return handle, err
	}

	state := m.store.LoadState(name)
	state.ProfileName = name
	state.BindAddress = bind.Host
	state.Port = bind.Port
	state.SocketPath = socketPath
	state.DaemonPID = handle.PID
	state.DaemonStarted = handle.StartedAt
	state.Touch()
	if err := m.store.SaveState(name, state); err != nil {
		return handle, err
	}

	if err := supervisor.WaitReady(ctx, handle, socketPath, logPath, m.ReadyTimeout); err != nil {
		if !supervisor.Alive(handle) {
			// Definitive failure: drop the dead PID from state.
			state.DaemonPID = 0
			state.DaemonStarted = 0
			_ = m.store.SaveState(name, state)
		}
		return handle, err
	}
	return handle, nil
}

// resolveBindSpec layers the bind sources: CLI flag over config file over
// the built-in default. The second return reports whether the port is
// explicit, i.e. a conflict must fail instead of drifting.
func (m *Manager) resolveBindSpec(name, bindSpec string, cfg config.Config) (bindaddr.Spec, bool, error) {
	if bindSpec != "" {
		spec, err := bindaddr.Parse(bindSpec)
		if err != nil {
			return bindaddr.Spec{}, false, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
		// Persist the user's choice for subsequent starts.
		cfg.Bind = bindSpec
		if err := m.store.SaveConfig(name, cfg); err != nil {
			return bindaddr.Spec{}, false, err
		}
		return spec, spec.Port != 0, nil
	}

	spec, err := bindaddr.Parse(cfg.Bind)
	if err != nil {
		return bindaddr.Spec{}, false, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return spec, false, nil
}

func (m *Manager) allocate(spec bindaddr.Spec, explicit bool) (bindaddr.Spec, error) {
	if explicit {
		resolved, err := bindaddr.Allocate(spec)
		if err != nil {
			return bindaddr.Spec{}, fmt.Errorf("%w: %v", ErrBindUnavailable, err)
		}
		return resolved, nil
	}
	if spec.Port == 0 {
		return bindaddr.Allocate(spec)
	}
	// Implicit port: walk upward from the configured value, bounded so a
	// typo'd config cannot send us scanning the whole port range.
	return bindaddr.AllocateScan(spec, 100)
}

// StartSession brings the tailscale session up against the profile's
// daemon socket. Token precedence: argument, TAILSCALE_AUTH_TOKEN, then
// the config file. Without a token, the login URL from the client is
// returned as output for the user to follow.
func (m *Manager) StartSession(ctx context.Context, name, token string) (string, error) {
	if !m.store.Exists(name) {
		return "", fmt.Errorf("%w: %s", profile.ErrNotFound, name)
	}
	cfg, err := m.store.LoadConfig(name)
	if err != nil {
		return "", wrapConfigErr(err)
	}

	state := m.store.LoadState(name)
	if !supervisor.Alive(supervisor.Handle{PID: state.DaemonPID, StartedAt: state.DaemonStarted}) {
		return "", fmt.Errorf("%w for profile %s, start the server first", ErrServerNotRunning, name)
	}

	if token == "" {
		token = os.Getenv("TAILSCALE_AUTH_TOKEN")
	}
	if token == "" {
		token = cfg.AuthToken
	}

	args := []string{"--socket", cfg.SocketPath, "up"}
	if cfg.AcceptRoutes {
		args = append(args, "--accept-routes")
	}
	if cfg.AcceptDNS {
		args = append(args, "--accept-dns")
	}
	args = append(args, cfg.TailscaleUpArgs...)
	if token != "" {
		args = append(args, "--authkey", token)
	}

	logger.Log.Debugf("Starting tailscale session: %s %v", cfg.TailscalePath, args)
	stdout, stderr, err := supervisor.Run(ctx, cfg.TailscalePath, args, m.SessionTimeout)
	if err != nil {
		if errors.Is(err, supervisor.ErrTimeout) {
			return stdout, err
		}
		return stdout, fmt.Errorf("failed to start tailscale session: %v: %s", err, firstLine(stderr))
	}

	state.UsingAuthToken = token != ""
	_ = m.store.SaveState(name, state)
	return stdout, nil
}

// StopSession tears the tunnel down; the daemon keeps running.
// Idempotent: a stopped server or an already-down session succeeds.
func (m *Manager) StopSession(ctx context.Context, name string) error {
	if !m.store.Exists(name) {
		return fmt.Errorf("%w: %s", profile.ErrNotFound, name)
	}
	cfg, err := m.store.LoadConfig(name)
	if err != nil {
		return wrapConfigErr(err)
	}

	state := m.store.LoadState(name)
	if !supervisor.Alive(supervisor.Handle{PID: state.DaemonPID, StartedAt: state.DaemonStarted}) {
		logger.Log.Info("Tailscaled is not running, nothing to stop")
		return nil
	}

	args := []string{"--socket", cfg.SocketPath, "down"}
	logger.Log.Debugf("Stopping tailscale session: %s %v", cfg.TailscalePath, args)
	_, stderr, err := supervisor.Run(ctx, cfg.TailscalePath, args, m.SessionTimeout)
	if err != nil {
		if errors.Is(err, supervisor.ErrTimeout) {
			return err
		}
		return fmt.Errorf("failed to stop tailscale session: %v: %s", err, firstLine(stderr))
	}
	logger.Log.Info("Tailscale session stopped")
	return nil
}

// StopServer terminates the profile's daemon, gracefully first. It is
// idempotent; on a confirmed kill it clears the recorded PID and removes
// the stale control socket. If the process survives the escalation, the
// recorded state is deliberately left in place so status keeps showing
// the problem.
func (m *Manager) StopServer(ctx context.Context, name string) error {
	if !m.store.Exists(name) {
		return fmt.Errorf("%w: %s", profile.ErrNotFound, name)
	}

	lock, err := m.lock(ctx, name)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	state := m.store.LoadState(name)
	handle := supervisor.Handle{PID: state.DaemonPID, StartedAt: state.DaemonStarted}

	if supervisor.Alive(handle) {
		if err := supervisor.Terminate(ctx, handle, m.Grace); err != nil {
			return err
		}
		logger.Log.Info("Tailscaled stopped")
	} else {
		logger.Log.Info("Tailscaled is not running")
	}

	state.DaemonPID = 0
	state.DaemonStarted = 0
	if err := m.store.SaveState(name, state); err != nil {
		return err
	}
	if state.SocketPath != "" {
		_ = os.Remove(state.SocketPath)
	}
	return nil
}

// DeleteProfile removes the profile's configuration and cache
// directories. A running daemon is a precondition violation, not a
// silent cleanup.
func (m *Manager) DeleteProfile(ctx context.Context, name string) error {
	if !m.store.Exists(name) {
		return fmt.Errorf("%w: %s", profile.ErrNotFound, name)
	}

	lock, err := m.lock(ctx, name)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	state := m.store.LoadState(name)
	if supervisor.Alive(supervisor.Handle{PID: state.DaemonPID, StartedAt: state.DaemonStarted}) {
		return fmt.Errorf("%w: %s (PID %d), stop the server first", ErrProfileStillRunning, name, state.DaemonPID)
	}

	return m.store.Delete(name)
}

func (m *Manager) lock(ctx context.Context, name string) (interface{ Unlock() error }, error) {
	lockCtx, cancel := context.WithTimeout(ctx, m.LockWait)
	defer cancel()
	return m.store.Lock(lockCtx, name)
}

// loadOrCreateConfig loads the profile config, writing the synthesized
// defaults to disk on first use so the user has a file to edit.
func (m *Manager) loadOrCreateConfig(name string) (config.Config, bool, error) {
	created := false
	if _, err := os.Stat(m.store.ConfigPath(name)); os.IsNotExist(err) {
		created = true
	}

	cfg, err := m.store.LoadConfig(name)
	if err != nil {
		return cfg, false, wrapConfigErr(err)
	}
	if created {
		if err := m.store.SaveConfig(name, cfg); err != nil {
			return cfg, false, err
		}
	}
	return cfg, created, nil
}

func wrapConfigErr(err error) error {
	if errors.Is(err, config.ErrInvalid) {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return err
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
