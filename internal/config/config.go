// Package config loads the SFU's configuration from an optional
// TOML or JSON file, overlays environment variables, and validates
// the result before the server binds to anything.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ICEServer mirrors one entry of a WebRTC ICE server list.
type ICEServer struct {
	URLs       []string `json:"urls" toml:"urls"`
	Username   string   `json:"username,omitempty" toml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" toml:"credential,omitempty"`
}

// Config holds every knob the SFU reads at startup.
type Config struct {
	ListenAddress          string      `json:"listen_address" toml:"listen_address"`
	Port                   int         `json:"port" toml:"port"`
	MaxParticipantsPerRoom int         `json:"max_participants_per_room" toml:"max_participants_per_room"`
	ConnectionTimeoutSecs  int         `json:"connection_timeout_secs" toml:"connection_timeout_secs"`
	CleanupIntervalSecs    int         `json:"cleanup_interval_secs" toml:"cleanup_interval_secs"`
	TLSEnabled             bool        `json:"tls_enabled" toml:"tls_enabled"`
	TLSCertPath            string      `json:"tls_cert_path" toml:"tls_cert_path"`
	TLSKeyPath             string      `json:"tls_key_path" toml:"tls_key_path"`
	VerboseLogging         bool        `json:"verbose_logging" toml:"verbose_logging"`
	ICEServers             []ICEServer `json:"ice_servers" toml:"ice_servers"`
}

// ConnectionTimeout returns ConnectionTimeoutSecs as a time.Duration.
func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSecs) * time.Second
}

// CleanupInterval returns CleanupIntervalSecs as a time.Duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSecs) * time.Second
}

// Default returns the configuration the server runs with if neither a
// config file nor any environment variable is present.
func Default() Config {
	return Config{
		ListenAddress:          "0.0.0.0",
		Port:                   8443,
		MaxParticipantsPerRoom: 16,
		ConnectionTimeoutSecs:  30,
		CleanupIntervalSecs:    60,
		TLSEnabled:             false,
		VerboseLogging:         false,
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Load builds the effective configuration: defaults, overlaid by an
// on-disk file (if one is found), overlaid by environment variables,
// then validated.
func Load() (*Config, error) {
	cfg := Default()

	if path := findConfigFile(); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile resolves the config file path from $CONFIG_FILE, or
// falls back to ./config.toml or ./config.json if either exists.
func findConfigFile() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	for _, candidate := range []string{"config.toml", "config.json"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// loadFile decodes path into cfg, choosing TOML or JSON by file
// extension, falling back to sniffing the first non-whitespace byte
// when the extension is absent or unrecognized.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "{") {
			return json.Unmarshal(data, cfg)
		}
		return toml.Unmarshal(data, cfg)
	}
}

// applyEnvOverrides layers environment variables over cfg, left
// untouched where the corresponding variable is unset.
func applyEnvOverrides(cfg *Config) {
	if v := getEnv("LISTEN_ADDRESS", ""); v != "" {
		cfg.ListenAddress = v
	}
	if v := getEnvInt("SIGNALING_PORT"); v != nil {
		cfg.Port = *v
	}
	if v := getEnvInt("MAX_PARTICIPANTS_PER_ROOM"); v != nil {
		cfg.MaxParticipantsPerRoom = *v
	}
	if v := getEnvInt("CONNECTION_TIMEOUT_SECS"); v != nil {
		cfg.ConnectionTimeoutSecs = *v
	}
	if v := getEnvInt("CLEANUP_INTERVAL_SECS"); v != nil {
		cfg.CleanupIntervalSecs = *v
	}
	if v := getEnvBool("TLS_ENABLED"); v != nil {
		cfg.TLSEnabled = *v
	}
	if v := getEnv("TLS_CERT_PATH", ""); v != "" {
		cfg.TLSCertPath = v
	}
	if v := getEnv("TLS_KEY_PATH", ""); v != "" {
		cfg.TLSKeyPath = v
	}
	if v := getEnvBool("VERBOSE_LOGGING"); v != nil {
		cfg.VerboseLogging = *v
	}
	if raw := os.Getenv("ICE_SERVERS"); raw != "" {
		var servers []ICEServer
		if err := json.Unmarshal([]byte(raw), &servers); err == nil {
			cfg.ICEServers = servers
		}
	}
}

// Validate checks the configuration invariants the server requires at
// load time: a bindable port, a non-zero room capacity, at least one
// ICE server, and a matching cert/key pair whenever TLS is enabled.
func (c *Config) Validate() error {
	if c.Port == 0 {
		return errors.New("config: port must be non-zero")
	}
	if c.MaxParticipantsPerRoom == 0 {
		return errors.New("config: max_participants_per_room must be non-zero")
	}
	if len(c.ICEServers) == 0 {
		return errors.New("config: ice_servers must not be empty")
	}
	if c.TLSEnabled && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		return errors.New("config: tls_enabled requires both tls_cert_path and tls_key_path")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string) *int {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

func getEnvBool(key string) *bool {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &b
}
