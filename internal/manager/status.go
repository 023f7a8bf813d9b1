package manager

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"tailsocks/internal/bindaddr"
	"tailsocks/internal/logger"
	"tailsocks/internal/supervisor"
)

// ProfileStatus is a point-in-time report for one profile. Liveness is
// re-probed from the recorded process fingerprint, never trusted from
// the state file: a crashed daemon reads as down even if state says
// otherwise.
type ProfileStatus struct {
	Name           string
	Configured     bool
	ServerRunning  bool
	SessionUp      bool
	Bind           string
	IPAddress      string
	ConfigDir      string
	CacheDir       string
	LastStarted    string
	UsingAuthToken bool
}

// tailscaleStatus is the slice of `tailscale status --json` output we
// care about.
type tailscaleStatus struct {
	BackendState string `json:"BackendState"`
	Self         struct {
		TailscaleIPs []string `json:"TailscaleIPs"`
	} `json:"Self"`
}

// Status reports on a single profile. Querying is exploratory: an
// unknown profile yields a "not configured" report, never an error.
func (m *Manager) Status(ctx context.Context, name string) ProfileStatus {
	status := ProfileStatus{Name: name, IPAddress: "N/A"}
	if !m.store.Exists(name) {
		return status
	}
	status.Configured = true
	status.ConfigDir = m.store.ConfigDir(name)
	status.CacheDir = m.store.CacheDir(name)

	cfg, err := m.store.LoadConfig(name)
	if err != nil {
		logger.Log.Debugf("Profile %s has an unreadable config: %v", name, err)
	}

	state := m.store.LoadState(name)
	status.LastStarted = state.LastStarted
	status.UsingAuthToken = state.UsingAuthToken

	if state.BindAddress != "" {
		status.Bind = bindaddr.Spec{Host: state.BindAddress, Port: state.Port}.String()
	} else {
		status.Bind = cfg.Bind
	}

	status.ServerRunning = supervisor.Alive(supervisor.Handle{
		PID:       state.DaemonPID,
		StartedAt: state.DaemonStarted,
	})
	if !status.ServerRunning {
		return status
	}

	ts, err := m.probeSession(ctx, cfg.TailscalePath, cfg.SocketPath)
	if err != nil {
		logger.Log.Debugf("Session probe for %s failed: %v", name, err)
		return status
	}
	status.SessionUp = ts.BackendState == "Running"
	if len(ts.Self.TailscaleIPs) > 0 {
		status.IPAddress = ts.Self.TailscaleIPs[0]
	}
	return status
}

// StatusAll reports on every known profile, probing them concurrently.
func (m *Manager) StatusAll(ctx context.Context) []ProfileStatus {
	names := m.store.List()
	statuses := make([]ProfileStatus, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			statuses[i] = m.Status(gctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}

func (m *Manager) probeSession(ctx context.Context, tailscalePath, socketPath string) (tailscaleStatus, error) {
	var ts tailscaleStatus
	args := []string{"--socket", socketPath, "status", "--json"}
	stdout, _, err := supervisor.Run(ctx, tailscalePath, args, m.StatusTimeout)
	if err != nil {
		return ts, err
	}
	if err := json.Unmarshal([]byte(stdout), &ts); err != nil {
		return ts, err
	}
	return ts, nil
}
