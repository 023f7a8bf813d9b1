// Package profile maps profile names to their on-disk configuration and
// cache directories and to the files inside them. Each profile owns
// ~/.config/tailscale-<name> and ~/.cache/tailscale-<name>; the cache
// directory holds the control socket, the lock file, and the state file.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tailsocks/internal/config"
	"tailsocks/internal/logger"
)

const dirPrefix = "tailscale-"

var ErrNotFound = errors.New("profile not found")

// Store resolves profile names to filesystem paths. The roots default to
// the user's config and cache directories and are overridable for tests.
type Store struct {
	ConfigRoot string
	CacheRoot  string
}

func NewStore() (*Store, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("cannot resolve user config directory: %w", err)
	}
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("cannot resolve user cache directory: %w", err)
	}
	return &Store{ConfigRoot: cfgRoot, CacheRoot: cacheRoot}, nil
}

func (st *Store) ConfigDir(name string) string {
	return filepath.Join(st.ConfigRoot, dirPrefix+name)
}

func (st *Store) CacheDir(name string) string {
	return filepath.Join(st.CacheRoot, dirPrefix+name)
}

func (st *Store) ConfigPath(name string) string {
	return filepath.Join(st.ConfigDir(name), "config.yaml")
}

func (st *Store) StatePath(name string) string {
	return filepath.Join(st.CacheDir(name), "state.yml")
}

func (st *Store) LockPath(name string) string {
	return filepath.Join(st.CacheDir(name), "lock")
}

// EnsureDirs creates both profile directories if they do not exist yet.
func (st *Store) EnsureDirs(name string) error {
	for _, dir := range []string{st.ConfigDir(name), st.CacheDir(name)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create profile directory %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether either of the profile's directories is present.
func (st *Store) Exists(name string) bool {
	for _, dir := range []string{st.ConfigDir(name), st.CacheDir(name)} {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return true
		}
	}
	return false
}

// List returns the names of all known profiles, from the union of config
// and cache directories, sorted.
func (st *Store) List() []string {
	seen := make(map[string]bool)
	for _, root := range []string{st.ConfigRoot, st.CacheRoot} {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), dirPrefix) {
				seen[strings.TrimPrefix(e.Name(), dirPrefix)] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadConfig reads the profile's config.yaml, synthesizing defaults when
// the file is absent.
func (st *Store) LoadConfig(name string) (config.Config, error) {
	return config.Load(st.ConfigPath(name), name, st.CacheDir(name))
}

// SaveConfig writes the profile's config.yaml.
func (st *Store) SaveConfig(name string, cfg config.Config) error {
	return config.Save(st.ConfigPath(name), cfg)
}

// Delete removes the profile's configuration and cache directories.
// Irreversible. The caller is responsible for ensuring no daemon is
// still running against them.
func (st *Store) Delete(name string) error {
	if !st.Exists(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	for _, dir := range []string{st.ConfigDir(name), st.CacheDir(name)} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		logger.Log.Debugf("Removed %s", dir)
	}
	return nil
}
