// Package config loads the demo host process's configuration: logging,
// device identity, and the OTA/WebSocket endpoints a Session connects
// to, following a flag-driven YAML path with defaults filled in after
// unmarshal.
package config

import (
	"fmt"
	"os"

	"github.com/aivox/voxengine/log"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for the demo host process.
type Config struct {
	Device     DeviceConfig `yaml:"device"`
	Engine     EngineConfig `yaml:"engine"`
	Log        log.Config   `yaml:"log"`
	ConfigPath string       `yaml:"-"`
}

// DeviceConfig names the network interface used to derive a stable
// Device-Id, matching the original's GetMacAddress() convention.
type DeviceConfig struct {
	InterfaceName string `yaml:"interface_name"`
}

// EngineConfig overrides the Session's OTA and WebSocket endpoints and
// the extra headers merged into the WebSocket handshake.
type EngineConfig struct {
	OTAURL         string            `yaml:"ota_url"`
	WebSocketURL   string            `yaml:"websocket_url"`
	WebSocketExtra map[string]string `yaml:"websocket_headers"`
}

// LoadConfig reads and parses the YAML file at configPath, filling in
// defaults for any unset logging fields.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ConfigPath = configPath

	if cfg.Log.LogLevel == "" {
		cfg.Log.LogLevel = "info"
	}
	if cfg.Log.LogFile == "" {
		cfg.Log.LogFile = "logs/voxengine.log"
	}
	if !cfg.Log.EnableConsole {
		cfg.Log.EnableConsole = true
	}

	return &cfg, nil
}
