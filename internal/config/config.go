// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from config.yaml.
type Config struct {
	DB     DBConfig     `yaml:"db"`
	Local  LocalConfig  `yaml:"local"`
	Bridge BridgeConfig `yaml:"bridge"`
	Status StatusConfig `yaml:"status"`
}

// DBConfig holds connection settings for the settings/ticket database.
// Driver "sqlite" uses Path; driver "mysql" uses Host/Port/Database.
type DBConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// LocalConfig selects and configures the channel-network adapter.
type LocalConfig struct {
	Platform string `yaml:"platform"` // "discord" or "slack"

	DiscordToken    string `yaml:"discord_token"`
	DiscordGuildID  string `yaml:"discord_guild_id"`
	DiscordCategory string `yaml:"discord_category"` // parent category for ticket channels (optional)

	SlackAppToken string `yaml:"slack_app_token"`
	SlackBotToken string `yaml:"slack_bot_token"`
}

// BridgeConfig holds per-process bridge tunables. All durations are plain
// integers so the YAML stays readable; conversion happens at the call sites.
type BridgeConfig struct {
	ReconnectDelaySec    int    `yaml:"reconnect_delay_sec"`    // delay before a reconnect attempt
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"` // attempts before giving up
	PairingTTLSec        int    `yaml:"pairing_ttl_sec"`        // pairing code lifetime
	PairingDedupSec      int    `yaml:"pairing_dedup_sec"`      // identical-code suppression window
	SendSpacingMs        int    `yaml:"send_spacing_ms"`        // inter-send delay while draining
	MaxSendAttempts      int    `yaml:"max_send_attempts"`      // retries before a queue entry is abandoned
	NoticeDisconnectMin  int    `yaml:"notice_disconnect_min"`  // min minutes between disconnect notices
	NoticeAuthMin        int    `yaml:"notice_auth_min"`        // min minutes between auth-failure notices
	SweepCron            string `yaml:"sweep_cron"`             // 5-field cron for the maintenance sweep
}

// StatusConfig holds settings for the JSON status API.
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Driver == "sqlite" && c.DB.Path == "" {
		c.DB.Path = "switchboard.db"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "switchboard"
	}
	if c.Local.Platform == "" {
		c.Local.Platform = "discord"
	}
	if c.Bridge.ReconnectDelaySec == 0 {
		c.Bridge.ReconnectDelaySec = 5
	}
	if c.Bridge.MaxReconnectAttempts == 0 {
		c.Bridge.MaxReconnectAttempts = 10
	}
	if c.Bridge.PairingTTLSec == 0 {
		c.Bridge.PairingTTLSec = 120
	}
	if c.Bridge.PairingDedupSec == 0 {
		c.Bridge.PairingDedupSec = 15
	}
	if c.Bridge.SendSpacingMs == 0 {
		c.Bridge.SendSpacingMs = 1500
	}
	if c.Bridge.MaxSendAttempts == 0 {
		c.Bridge.MaxSendAttempts = 5
	}
	if c.Bridge.NoticeDisconnectMin == 0 {
		c.Bridge.NoticeDisconnectMin = 15
	}
	if c.Bridge.NoticeAuthMin == 0 {
		c.Bridge.NoticeAuthMin = 30
	}
	if c.Bridge.SweepCron == "" {
		c.Bridge.SweepCron = "0 4 * * *"
	}
	if c.Status.Port == 0 {
		c.Status.Port = 8090
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported (sqlite, mysql)", c.DB.Driver))
	}
	switch c.Local.Platform {
	case "discord":
		if c.Local.DiscordToken == "" {
			errs = append(errs, "local.discord_token is required for platform discord")
		}
		if c.Local.DiscordGuildID == "" {
			errs = append(errs, "local.discord_guild_id is required for platform discord")
		}
	case "slack":
		if c.Local.SlackAppToken == "" {
			errs = append(errs, "local.slack_app_token is required for platform slack")
		}
		if c.Local.SlackBotToken == "" {
			errs = append(errs, "local.slack_bot_token is required for platform slack")
		}
	default:
		errs = append(errs, fmt.Sprintf("local.platform %q is not supported (discord, slack)", c.Local.Platform))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
