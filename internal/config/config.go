// Package config handles configuration loading, validation, and
// persistence for the parley chat server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultRendezvousPort = 1234
	DefaultAPIPort        = 5000

	// The session timeout is twice the client heartbeat period, giving
	// one missed beat of tolerance before a session is torn down.
	DefaultSessionTimeoutMS    = 10000
	DefaultHeartbeatIntervalMS = 5000
)

// Config is the root configuration structure for parleyd.
type Config struct {
	mu   sync.RWMutex
	path string

	Chat        ChatData        `json:"chat"`
	Application ApplicationData `json:"application"`
}

// ChatData configures the protocol core.
type ChatData struct {
	// Rendezvous socket
	RendezvousPort int `json:"rendezvous_port"`

	// Session liveness
	SessionTimeoutMS    int `json:"session_timeout_ms"`
	HeartbeatIntervalMS int `json:"heartbeat_interval_ms"`

	// Username constraints, enforced on join. Oversized names are
	// rejected the same way duplicates are.
	MaxNameLength int `json:"max_name_length"`

	// HELLO flood protection on the rendezvous port
	HelloRatePerSec float64 `json:"hello_rate_per_sec"`
	HelloBurst      int     `json:"hello_burst"`
}

// ApplicationData configures everything around the protocol core.
type ApplicationData struct {
	Logging LoggingConfig `json:"logging"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Audit   AuditConfig   `json:"audit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// APIConfig holds the read-only admin HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled        bool   `json:"enabled"`
	BrokerURL      string `json:"broker_url"`
	Port           int    `json:"port"`
	UseTLS         bool   `json:"use_tls"`
	CertFile       string `json:"cert_file"`
	KeyFile        string `json:"key_file"`
	ClientID       string `json:"client_id"`
	StatusInterval int    `json:"status_interval_sec"`
}

// AuditConfig holds the session/room audit log settings.
type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Chat: ChatData{
			RendezvousPort:      DefaultRendezvousPort,
			SessionTimeoutMS:    DefaultSessionTimeoutMS,
			HeartbeatIntervalMS: DefaultHeartbeatIntervalMS,
			MaxNameLength:       32,
			HelloRatePerSec:     5,
			HelloBurst:          10,
		},
		Application: ApplicationData{
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
			},
			API: APIConfig{
				Enabled:      true,
				Port:         DefaultAPIPort,
				RateLimitRPS: 100,
			},
			MQTT: MQTTConfig{
				Enabled:        false,
				Port:           8883,
				UseTLS:         true,
				StatusInterval: 30,
			},
			Audit: AuditConfig{
				Enabled: true,
				Path:    filepath.Join("data", "audit.db"),
			},
		},
	}
}

// Load reads configuration from a JSON file, creating one with defaults
// when it does not exist yet.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetChatData returns a copy of the chat configuration.
func (c *Config) GetChatData() ChatData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Chat
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Application
}

// SessionTimeout returns the session inactivity timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Chat.SessionTimeoutMS) * time.Millisecond
}

// HeartbeatInterval returns the client heartbeat period as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Chat.HeartbeatIntervalMS) * time.Millisecond
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
