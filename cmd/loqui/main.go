package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	loqui "github.com/loqui-im/loqui-go"
)

// ============================================================================
// Config types
// ============================================================================

// Config is the CLI configuration stored in ~/.loqui/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
}

// ConfigDefault holds general settings.
type ConfigDefault struct {
	BaseURL  string `toml:"base_url"`
	DeviceID string `toml:"device_id"`
	LogLevel string `toml:"log_level"`
}

// ConfigAuth holds the session credentials.
type ConfigAuth struct {
	Token  string `toml:"token"`
	UserID string `toml:"user_id"`
}

// ============================================================================
// Config helpers
// ============================================================================

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".loqui")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads the config file, returning a zero-value Config if it
// does not exist yet.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "default.base_url":
		cfg.Default.BaseURL = value
	case "default.log_level":
		cfg.Default.LogLevel = value
	case "auth.token":
		cfg.Auth.Token = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

// ============================================================================
// Session helper
// ============================================================================

// newSession builds an engine session from the stored credentials.
func newSession() (*loqui.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("not logged in; run 'loqui init <token>' first")
	}

	opts := []loqui.SessionOption{}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, loqui.WithSessionBaseURL(strings.TrimRight(cfg.Default.BaseURL, "/")))
	}
	if cfg.Default.LogLevel != "" {
		logger, err := newLogger(cfg.Default.LogLevel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, loqui.WithLogger(logger))
	}
	return loqui.NewSession(cfg.Auth.Token, opts...)
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "loqui",
	Short: "Loqui chat from the terminal",
	Long:  "loqui keeps a locally synchronized view of your chats and lets you read, watch, and send from the terminal.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
