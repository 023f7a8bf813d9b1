package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tailsocks/internal/logger"
)

// State is the durable runtime record for a profile, written to
// <cache>/state.yml. The daemon PID and its start-time fingerprint are
// persisted before control returns to the shell, so a later invocation
// can always re-derive process ownership from disk.
type State struct {
	ProfileName    string `yaml:"profile_name"`
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	SocketPath     string `yaml:"socket_path"`
	DaemonPID      int    `yaml:"daemon_pid"`
	DaemonStarted  int64  `yaml:"daemon_started_ms"`
	UsingAuthToken bool   `yaml:"using_auth_token"`
	LastStarted    string `yaml:"last_started"`
}

// Touch stamps the state with the current wall-clock time.
func (s *State) Touch() {
	s.LastStarted = time.Now().Format("2006-01-02 15:04:05")
}

// LoadState reads the profile's state file. A missing, empty, or corrupt
// file yields a zero State: state is advisory and self-heals rather than
// blocking operations.
func (st *Store) LoadState(name string) State {
	path := st.StatePath(name)

	var state State
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Log.Debugf("No state file at %s", path)
		return state
	}
	if err := yaml.Unmarshal(data, &state); err != nil {
		logger.Log.Debugf("Ignoring unreadable state file %s: %v", path, err)
		return State{}
	}
	return state
}

// SaveState writes the profile's state file.
func (st *Store) SaveState(name string, state State) error {
	path := st.StatePath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	logger.Log.Debugf("Saved state to %s", path)
	return nil
}
