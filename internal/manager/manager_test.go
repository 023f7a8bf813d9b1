//go:build unix

package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"tailsocks/internal/config"
	"tailsocks/internal/logger"
	"tailsocks/internal/profile"
)

func TestMain(m *testing.M) {
	logger.Init(false, "")
	os.Exit(m.Run())
}

// fakeTailscaled mimics the daemon: it touches the path given after
// --socket and then blocks, like tailscaled publishing its control
// socket.
const fakeTailscaled = `prev=""
for a in "$@"; do
  if [ "$prev" = "--socket" ]; then sock="$a"; fi
  prev="$a"
done
: > "$sock"
exec sleep 60
`

// fakeTailscale mimics the client verbs the manager shells out to.
const fakeTailscale = `cmd=""
for a in "$@"; do
  case "$a" in up|down|status) cmd="$a" ;; esac
done
case "$cmd" in
  status) printf '{"BackendState":"Running","Self":{"TailscaleIPs":["100.64.0.1"]}}\n' ;;
  up) echo "Success." ;;
  down) : ;;
  *) exit 1 ;;
esac
`

type fixture struct {
	mgr   *Manager
	store *profile.Store
	bins  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &profile.Store{ConfigRoot: t.TempDir(), CacheRoot: t.TempDir()}
	mgr := New(store)
	mgr.ReadyTimeout = 5 * time.Second
	mgr.Grace = 2 * time.Second
	mgr.SessionTimeout = 5 * time.Second

	bins := t.TempDir()
	for name, body := range map[string]string{
		"tailscaled": fakeTailscaled,
		"tailscale":  fakeTailscale,
	} {
		if err := os.WriteFile(filepath.Join(bins, name), []byte("#!/bin/sh\n"+body), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	return &fixture{mgr: mgr, store: store, bins: bins}
}

// seedProfile writes a config pointing at the fake binaries, binding to
// a kernel-assigned port so tests never collide on the default 1080.
func (f *fixture) seedProfile(t *testing.T, name string) {
	t.Helper()
	cfg := config.Default(name, f.store.CacheDir(name))
	cfg.TailscaledPath = filepath.Join(f.bins, "tailscaled")
	cfg.TailscalePath = filepath.Join(f.bins, "tailscale")
	cfg.TailscaledArgs = nil
	cfg.TailscaleUpArgs = nil
	cfg.Bind = "127.0.0.1:0"
	if err := f.store.SaveConfig(name, cfg); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) stop(t *testing.T, name string) {
	t.Helper()
	if err := f.mgr.StopServer(context.Background(), name); err != nil {
		t.Fatalf("cleanup stop-server: %v", err)
	}
}

func TestStartServerThenAlreadyRunning(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, "alpha")
	ctx := context.Background()

	if _, err := f.mgr.StartServer(ctx, "alpha", ""); err != nil {
		t.Fatal(err)
	}
	defer f.stop(t, "alpha")

	state := f.store.LoadState("alpha")
	if state.DaemonPID == 0 || state.DaemonStarted == 0 {
		t.Fatalf("daemon handle not persisted: %+v", state)
	}
	if state.Port == 0 {
		t.Fatal("resolved port not persisted")
	}

	_, err := f.mgr.StartServer(ctx, "alpha", "")
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartServerExplicitBindBusy(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, "beta")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	_, err = f.mgr.StartServer(context.Background(), "beta", fmt.Sprintf("127.0.0.1:%d", busy))
	if !errors.Is(err, ErrBindUnavailable) {
		t.Fatalf("start on busy explicit bind = %v, want ErrBindUnavailable", err)
	}
}

func TestStartServerMissingBinary(t *testing.T) {
	f := newFixture(t)
	name := "gamma"
	cfg := config.Default(name, f.store.CacheDir(name))
	cfg.TailscaledPath = filepath.Join(f.bins, "no-such-daemon")
	cfg.Bind = "127.0.0.1:0"
	if err := f.store.SaveConfig(name, cfg); err != nil {
		t.Fatal(err)
	}

	_, err := f.mgr.StartServer(context.Background(), name, "")
	if err == nil {
		t.Fatal("expected launch failure")
	}
}

func TestStopServerIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, "delta")
	ctx := context.Background()

	if _, err := f.mgr.StartServer(ctx, "delta", ""); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.StopServer(ctx, "delta"); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.StopServer(ctx, "delta"); err != nil {
		t.Fatalf("second stop = %v, want success", err)
	}

	status := f.mgr.Status(ctx, "delta")
	if status.ServerRunning {
		t.Fatal("status reports running after stop")
	}
}

func TestDeleteProfileRequiresStop(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, "epsilon")
	ctx := context.Background()

	if _, err := f.mgr.StartServer(ctx, "epsilon", ""); err != nil {
		t.Fatal(err)
	}

	err := f.mgr.DeleteProfile(ctx, "epsilon")
	if !errors.Is(err, ErrProfileStillRunning) {
		t.Fatalf("delete while running = %v, want ErrProfileStillRunning", err)
	}
	if !f.store.Exists("epsilon") {
		t.Fatal("failed delete must leave the profile intact")
	}

	f.stop(t, "epsilon")
	if err := f.mgr.DeleteProfile(ctx, "epsilon"); err != nil {
		t.Fatal(err)
	}
	if f.store.Exists("epsilon") {
		t.Fatal("profile directories survived delete")
	}

	status := f.mgr.Status(ctx, "epsilon")
	if status.Configured {
		t.Fatal("deleted profile must report not configured")
	}

	if err := f.mgr.DeleteProfile(ctx, "epsilon"); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("delete after delete = %v, want ErrNotFound", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, "zeta")
	ctx := context.Background()

	// No daemon yet.
	if _, err := f.mgr.StartSession(ctx, "zeta", ""); !errors.Is(err, ErrServerNotRunning) {
		t.Fatalf("start-session without server = %v, want ErrServerNotRunning", err)
	}

	if _, err := f.mgr.StartServer(ctx, "zeta", ""); err != nil {
		t.Fatal(err)
	}
	defer f.stop(t, "zeta")

	if _, err := f.mgr.StartSession(ctx, "zeta", "tskey-test"); err != nil {
		t.Fatal(err)
	}

	status := f.mgr.Status(ctx, "zeta")
	if !status.ServerRunning {
		t.Fatal("server must report running")
	}
	if !status.SessionUp {
		t.Fatal("session must report up")
	}
	if status.IPAddress != "100.64.0.1" {
		t.Fatalf("ip = %q", status.IPAddress)
	}
	if !status.UsingAuthToken {
		t.Fatal("auth token use not recorded")
	}

	if err := f.mgr.StopSession(ctx, "zeta"); err != nil {
		t.Fatal(err)
	}
}

func TestStopSessionIdempotentWhenServerDown(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, "eta")

	if err := f.mgr.StopSession(context.Background(), "eta"); err != nil {
		t.Fatalf("stop-session on stopped server = %v, want success", err)
	}
}

func TestStatusUnknownProfile(t *testing.T) {
	f := newFixture(t)

	status := f.mgr.Status(context.Background(), "never-created")
	if status.Configured {
		t.Fatal("unknown profile must report not configured")
	}
	if status.ServerRunning || status.SessionUp {
		t.Fatal("unknown profile cannot be running")
	}
}

func TestStatusSurvivesDaemonCrash(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, "theta")
	ctx := context.Background()

	if _, err := f.mgr.StartServer(ctx, "theta", ""); err != nil {
		t.Fatal(err)
	}

	// Kill the daemon behind the manager's back; state still records it.
	state := f.store.LoadState("theta")
	if err := syscall.Kill(state.DaemonPID, syscall.SIGKILL); err != nil {
		t.Fatal(err)
	}
	waitDead(t, state.DaemonPID)

	status := f.mgr.Status(ctx, "theta")
	if status.ServerRunning {
		t.Fatal("crashed daemon must be reported as down")
	}

	// And a restart must not be blocked by the stale PID.
	if _, err := f.mgr.StartServer(ctx, "theta", ""); err != nil {
		t.Fatalf("restart after crash: %v", err)
	}
	f.stop(t, "theta")
}

func TestConcurrentStartLaunchesOneDaemon(t *testing.T) {
	f := newFixture(t)
	f.seedProfile(t, "iota")
	ctx := context.Background()

	results := make([]error, 2)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			_, results[i] = f.mgr.StartServer(ctx, "iota", "")
			return nil
		})
	}
	_ = g.Wait()
	defer f.stop(t, "iota")

	var started, refused int
	for _, err := range results {
		switch {
		case err == nil:
			started++
		case errors.Is(err, ErrAlreadyRunning):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if started != 1 || refused != 1 {
		t.Fatalf("started=%d refused=%d, want exactly one of each", started, refused)
	}
}

func TestStartServerGeneratesName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A generated profile falls back to the system tailscaled path; this
	// test must not launch a real daemon.
	tailscaled, _ := config.DefaultBinaries()
	if _, err := os.Stat(tailscaled); err == nil {
		t.Skipf("%s is installed, skipping random-name launch", tailscaled)
	}

	name, err := f.mgr.StartServer(ctx, "", "")
	if name == "" {
		t.Fatal("expected a generated profile name")
	}
	if err == nil {
		t.Fatal("expected a launch failure against the absent system binary")
	}
	if !f.store.Exists(name) {
		t.Fatal("generated profile directories were not created")
	}
	if _, statErr := os.Stat(f.store.ConfigPath(name)); statErr != nil {
		t.Fatalf("default config not written: %v", statErr)
	}
}

func waitDead(t *testing.T, pid int) {
	t.Helper()
	for i := 0; i < 50; i++ {
		if err := syscall.Kill(pid, 0); err != nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("pid %d still alive", pid)
}
