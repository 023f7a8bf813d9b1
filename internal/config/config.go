package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a config file that exists but cannot be parsed.
var ErrInvalid = errors.New("invalid config")

// Config holds the per-profile settings persisted to config.yaml.
// Unknown keys in the file are ignored for forward compatibility.
type Config struct {
	TailscaledPath  string   `yaml:"tailscaled_path"`
	TailscalePath   string   `yaml:"tailscale_path"`
	SocketPath      string   `yaml:"socket_path"`
	AcceptRoutes    bool     `yaml:"accept_routes"`
	AcceptDNS       bool     `yaml:"accept_dns"`
	Bind            string   `yaml:"bind"`
	AuthToken       string   `yaml:"auth_token"`
	TailscaledArgs  []string `yaml:"tailscaled_args"`
	TailscaleUpArgs []string `yaml:"tailscale_up_args"`

	// BindConfigured records whether the file itself carried a bind key.
	// An explicitly configured bind fails hard on conflict instead of
	// drifting to a nearby free port.
	BindConfigured bool `yaml:"-"`
}

// DefaultBinaries returns the conventional install locations of the
// tailscaled and tailscale binaries for the current OS.
func DefaultBinaries() (tailscaled, tailscale string) {
	switch runtime.GOOS {
	case "darwin":
		return "/usr/local/bin/tailscaled", "/usr/local/bin/tailscale"
	case "linux":
		return "/usr/sbin/tailscaled", "/usr/bin/tailscale"
	default:
		return "tailscaled", "tailscale"
	}
}

// Default synthesizes the configuration used for a profile that has no
// config.yaml yet. The control socket lives in the profile's cache dir.
func Default(profileName, cacheDir string) Config {
	tailscaled, tailscale := DefaultBinaries()
	return Config{
		TailscaledPath:  tailscaled,
		TailscalePath:   tailscale,
		SocketPath:      filepath.Join(cacheDir, "tailscaled.sock"),
		AcceptRoutes:    true,
		AcceptDNS:       true,
		Bind:            "localhost:1080",
		TailscaledArgs:  []string{"--verbose=1"},
		TailscaleUpArgs: []string{fmt.Sprintf("--hostname=%s-proxy", profileName)},
	}
}

// Load reads a profile config, layering the file over defaults. A missing
// file is not an error: the synthesized defaults are returned as-is.
func Load(path, profileName, cacheDir string) (Config, error) {
	cfg := Default(profileName, cacheDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	// Probe for an explicit bind key before unmarshalling into the
	// defaulted struct, since the default would mask its absence.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	_, cfg.BindConfigured = raw["bind"]

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating the parent directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
