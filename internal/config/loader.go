package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in cmd.
type Config struct {
	DataDir        string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	ModelsDir      string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	SharePort      int    `json:"share_port" yaml:"share_port" toml:"share_port"`
	SharePassword  string `json:"share_password" yaml:"share_password" toml:"share_password"`
	DisplayName    string `json:"display_name" yaml:"display_name" toml:"display_name"`
	LogLevel       string `json:"log_level" yaml:"log_level" toml:"log_level"`
	HealthInterval int    `json:"health_interval_seconds" yaml:"health_interval_seconds" toml:"health_interval_seconds"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
