// Package config loads cs2obs's configuration from, in increasing
// priority order: built-in defaults, an optional YAML file, the
// process environment (populated from a .env file if one is present),
// and finally CLI flags bound by the caller on top of the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable cs2obs needs to run.
type Config struct {
	// ProcessName is the target process to find by basename, e.g. "cs2".
	ProcessName string `yaml:"process_name"`

	// ListenAddr is the address the HTTP/websocket server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// WebRoot is the directory http.FileServer serves static assets from.
	WebRoot string `yaml:"web_root"`

	// PollInterval is the cadence of the observation loop.
	PollInterval time.Duration `yaml:"poll_interval"`

	// LogLevel selects logging verbosity. Only "debug" changes it: that
	// value enables development logging at debug level, and any other
	// value ("info", "warn", "error", ...) logs at warn level.
	LogLevel string `yaml:"log_level"`

	// TUI enables the terminal dashboard in addition to the websocket feed.
	TUI bool `yaml:"tui"`
}

// Default returns the built-in defaults, used as the base for Load.
func Default() Config {
	return Config{
		ProcessName:  "cs2",
		ListenAddr:   "0.0.0.0:8080",
		WebRoot:      "web",
		PollInterval: 100 * time.Millisecond,
		LogLevel:     "info",
		TUI:          false,
	}
}

// Load builds a Config by layering, in order: Default(), the YAML file
// at yamlPath (skipped if yamlPath is empty or the file does not
// exist), then environment variables (loading envFile first via
// godotenv if it exists; envFile may be empty to skip this step).
// CLI flags are not handled here — bind them on top of the returned
// Config after Load returns, per the stated priority order.
func Load(yamlPath, envFile string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if err := applyYAML(&cfg, yamlPath); err != nil {
			return Config{}, err
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	applyEnv(&cfg)

	return cfg, nil
}

func applyYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("CS2OBS_PROCESS_NAME"); ok {
		cfg.ProcessName = v
	}
	if v, ok := os.LookupEnv("CS2OBS_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("CS2OBS_WEB_ROOT"); ok {
		cfg.WebRoot = v
	}
	if v, ok := os.LookupEnv("CS2OBS_POLL_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v, ok := os.LookupEnv("CS2OBS_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("CS2OBS_TUI"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.TUI = b
		}
	}
}
