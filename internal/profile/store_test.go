package profile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tailsocks/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init(false, "")
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return &Store{ConfigRoot: t.TempDir(), CacheRoot: t.TempDir()}
}

func TestEnsureDirsAndExists(t *testing.T) {
	st := newTestStore(t)

	if st.Exists("alpha") {
		t.Fatal("profile exists before creation")
	}
	if err := st.EnsureDirs("alpha"); err != nil {
		t.Fatal(err)
	}
	if !st.Exists("alpha") {
		t.Fatal("profile missing after EnsureDirs")
	}
	if st.ConfigDir("alpha") != filepath.Join(st.ConfigRoot, "tailscale-alpha") {
		t.Fatalf("unexpected config dir %s", st.ConfigDir("alpha"))
	}
}

func TestListUnionOfRoots(t *testing.T) {
	st := newTestStore(t)

	// A profile may have only one of its two directories left behind.
	if err := os.MkdirAll(filepath.Join(st.ConfigRoot, "tailscale-cfgonly"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(st.CacheRoot, "tailscale-cacheonly"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(st.ConfigRoot, "unrelated-dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	got := st.List()
	want := []string{"cacheonly", "cfgonly"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("List() = %v, want %v", got, want)
	}
}

func TestDelete(t *testing.T) {
	st := newTestStore(t)

	if err := st.Delete("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete(ghost) = %v, want ErrNotFound", err)
	}

	if err := st.EnsureDirs("victim"); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete("victim"); err != nil {
		t.Fatal(err)
	}
	if st.Exists("victim") {
		t.Fatal("profile still present after Delete")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	st := newTestStore(t)

	cfg, err := st.LoadConfig("beta")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SocketPath != filepath.Join(st.CacheDir("beta"), "tailscaled.sock") {
		t.Fatalf("default socket path %q not inside cache dir", cfg.SocketPath)
	}

	cfg.Bind = "localhost:4080"
	if err := st.SaveConfig("beta", cfg); err != nil {
		t.Fatal(err)
	}
	reloaded, err := st.LoadConfig("beta")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Bind != "localhost:4080" {
		t.Fatalf("bind = %q after reload", reloaded.Bind)
	}
}

func TestStateRoundTrip(t *testing.T) {
	st := newTestStore(t)

	state := State{
		ProfileName:   "gamma",
		BindAddress:   "localhost",
		Port:          1080,
		SocketPath:    "/tmp/sock",
		DaemonPID:     4242,
		DaemonStarted: 1700000000000,
	}
	state.Touch()
	if err := st.SaveState("gamma", state); err != nil {
		t.Fatal(err)
	}

	got := st.LoadState("gamma")
	if got.DaemonPID != 4242 || got.DaemonStarted != 1700000000000 {
		t.Fatalf("daemon handle lost: %+v", got)
	}
	if got.LastStarted == "" {
		t.Fatal("last_started not persisted")
	}
}

func TestStateSelfHeals(t *testing.T) {
	st := newTestStore(t)

	// Missing state file.
	if got := st.LoadState("delta"); got.DaemonPID != 0 {
		t.Fatalf("missing state must read as zero, got %+v", got)
	}

	// Corrupt state file.
	if err := st.EnsureDirs("delta"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(st.StatePath("delta"), []byte("][ definitely not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := st.LoadState("delta"); got.DaemonPID != 0 || got.ProfileName != "" {
		t.Fatalf("corrupt state must read as zero, got %+v", got)
	}
}

func TestRandomNameAvoidsExisting(t *testing.T) {
	st := newTestStore(t)

	name := st.RandomName()
	if !strings.Contains(name, "_") {
		t.Fatalf("unexpected name shape %q", name)
	}
	if err := st.EnsureDirs(name); err != nil {
		t.Fatal(err)
	}

	// The generator consults existing directories, so a second call can
	// never return the name we just claimed.
	for i := 0; i < 20; i++ {
		if again := st.RandomName(); again == name {
			t.Fatalf("RandomName returned the taken name %q", name)
		}
	}
}
