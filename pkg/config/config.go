// Package config loads the daemon's JSON configuration file. The file
// format is the one recognised surface named in the specification: version,
// server, authorization, docker, storage, monitoring and an optional remote
// block. No config-file library is used here — every other config loader in
// the example pack (e.g. ployz's CLI context file) is YAML and covers a
// different concern (client-side context switching, not a daemon's own
// settings), so there is no ecosystem precedent to follow for a JSON daemon
// config and stdlib encoding/json is used directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/types"
)

// ServerConfig is the HTTP/WS listen address.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// AuthorizationConfig gates the HTTP surface behind a static bearer token.
// AllowedOrigins is the WebSocket/CORS origin allow-list; "*" allows any
// origin, an empty list allows only requests carrying no Origin header at
// all (non-browser clients).
type AuthorizationConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// DockerConfig points at the container runtime's API socket.
type DockerConfig struct {
	SocketPath string `json:"socket_path"`
}

// StorageConfig lays out the persistence directories under a base path, per
// the external interfaces section's persistence layout.
type StorageConfig struct {
	BasePath       string `json:"base_path"`
	ContainersPath string `json:"containers_path"`
	VolumesPath    string `json:"volumes_path"`
}

// MonitoringConfig controls the billing tracker's sampling cadence and
// rates.
type MonitoringConfig struct {
	Enabled    bool                `json:"enabled"`
	IntervalMS uint64              `json:"interval_ms"`
	Billing    types.BillingRates  `json:"billing"`
}

// RemoteConfig points the remote client at a supervisory service.
type RemoteConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
}

// Config is the daemon's full JSON configuration.
type Config struct {
	Version       string              `json:"version"`
	Server        ServerConfig        `json:"server"`
	Authorization AuthorizationConfig `json:"authorization"`
	Docker        DockerConfig        `json:"docker"`
	Storage       StorageConfig       `json:"storage"`
	Monitoring    MonitoringConfig    `json:"monitoring"`
	Remote        *RemoteConfig       `json:"remote,omitempty"`
}

// Default returns a Config with the same defaults the original daemon
// shipped with, for use when no file is present at boot in dev mode.
func Default() Config {
	return Config{
		Version: "1",
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Authorization: AuthorizationConfig{AllowedOrigins: []string{"*"}},
		Docker:  DockerConfig{SocketPath: "unix:///var/run/docker.sock"},
		Storage: StorageConfig{
			BasePath:       "/var/lib/lightd",
			ContainersPath: "/var/lib/lightd/containers",
			VolumesPath:    "/var/lib/lightd/volumes",
		},
		Monitoring: MonitoringConfig{
			Enabled:    true,
			IntervalMS: 10000,
			Billing:    types.DefaultBillingRates(),
		},
	}
}

// Load reads and validates the config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, lightderr.Wrap(lightderr.IO, "read config file", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, lightderr.Wrap(lightderr.Validation, "parse config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate enforces the invariants the spec calls out explicitly: the
// authorization token, when enabled, must begin with "lightd_" and be at
// least 20 characters.
func (c Config) Validate() error {
	if c.Storage.BasePath == "" {
		return lightderr.New(lightderr.Validation, "storage.base_path must not be empty")
	}
	if c.Authorization.Enabled {
		tok := c.Authorization.Token
		if !strings.HasPrefix(tok, "lightd_") {
			return lightderr.New(lightderr.Validation, "authorization.token must start with 'lightd_'")
		}
		if len(tok) < 20 {
			return lightderr.New(lightderr.Validation, "authorization.token must be at least 20 characters")
		}
	}
	if c.Remote != nil && c.Remote.Enabled {
		if c.Remote.URL == "" {
			return lightderr.New(lightderr.Validation, "remote.url must not be empty when remote.enabled is true")
		}
	}
	return nil
}

// String renders a one-line summary useful in boot logs.
func (c Config) String() string {
	return fmt.Sprintf("version=%s server=%s:%d storage=%s auth_enabled=%t remote_enabled=%t",
		c.Version, c.Server.Host, c.Server.Port, c.Storage.BasePath, c.Authorization.Enabled, c.Remote != nil && c.Remote.Enabled)
}
