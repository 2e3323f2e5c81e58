package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const defaultProfileFile = "groupbot.key"

type ProfileConfig struct {
	Name  string `toml:"name"  env:"GROUPBOT_NAME"`
	About string `toml:"about" env:"GROUPBOT_ABOUT"`
}

type Config struct {
	Relays          []string      `toml:"relays"           env:"GROUPBOT_RELAYS" envSeparator:","`
	GroupRelay      string        `toml:"group_relay"      env:"GROUPBOT_GROUP_RELAY"`
	StateFile       string        `toml:"state_file"       env:"GROUPBOT_STATE_FILE"`
	MaxMessages     int           `toml:"max_messages"     env:"GROUPBOT_MAX_MESSAGES"`
	PresenceTimeout time.Duration `toml:"presence_timeout" env:"GROUPBOT_PRESENCE_TIMEOUT"`
	ArchiveDir      string        `toml:"archive_dir"      env:"GROUPBOT_ARCHIVE_DIR"`
	LogLevel        string        `toml:"log_level"        env:"GROUPBOT_LOG_LEVEL"`
	LogFormat       string        `toml:"log_format"       env:"GROUPBOT_LOG_FORMAT"`
	Profile         ProfileConfig `toml:"profile"`
}

func defaultConfig() Config {
	return Config{
		Relays: []string{
			"wss://relay.damus.io",
			"wss://nos.lol",
		},
		GroupRelay:      "wss://groups.fiatjaf.com",
		StateFile:       "autoinvite.toml",
		MaxMessages:     defaultMaxMessages,
		PresenceTimeout: 10 * time.Minute,
		LogLevel:        "info",
		LogFormat:       "text",
		Profile: ProfileConfig{
			Name:  "GroupBot",
			About: "Send me the message 'help' for full list of commands",
		},
	}
}

func configPath() string {
	if p := os.Getenv("GROUPBOT_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "groupbot", "config.toml")
}

// LoadConfig reads the TOML config (a missing file means defaults) and then
// applies GROUPBOT_* environment overrides.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	path := configPath()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("config: env: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	def := defaultConfig()
	if c.MaxMessages <= 0 {
		c.MaxMessages = defaultMaxMessages
	}
	if len(c.Relays) == 0 {
		c.Relays = def.Relays
	}
	if c.GroupRelay == "" {
		c.GroupRelay = c.Relays[0]
	}
	if c.StateFile == "" {
		c.StateFile = def.StateFile
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = def.PresenceTimeout
	}
	if c.Profile.Name == "" {
		c.Profile.Name = def.Profile.Name
	}
	if c.Profile.About == "" {
		c.Profile.About = def.Profile.About
	}
}

// newLogger builds the process logger from the log_level and log_format keys.
func newLogger(cfg Config) (*slog.Logger, error) {
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "", "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log_format: %s", cfg.LogFormat)
	}
	return slog.New(h), nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level: %s", s)
	}
}
