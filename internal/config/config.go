package config

import (
	"errors"
	"path/filepath"
	"time"

	"portpilot/internal/env"

	"github.com/spf13/viper"
)

/**
 * Server configuration parameters
 * @property {string} address - Server listening address (e.g. "127.0.0.1:8719")
 * @property {string} mode - Application mode (debug/release/test)
 */
type ServerConfig struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"`
}

/**
 * Logging configuration
 * @property {string} level - Log level (debug/info/warn/error)
 * @property {string} path - Log file path, "console" for stdout only
 */
type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

// Dir 日志目录，隧道的落盘日志也放在这里
func (c LogConfig) Dir() string {
	if c.Path == "" || c.Path == "console" {
		return filepath.Join(env.PortpilotDir, "logs")
	}
	return filepath.Dir(c.Path)
}

/**
 * SSH client configuration
 * @property {string} binary - ssh executable name or absolute path
 * @property {time.Duration} gracePeriod - wait time after SIGTERM before SIGKILL
 */
type SSHConfig struct {
	Binary      string        `mapstructure:"binary"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

/**
 * In-memory log hub configuration
 * @property {int} capacity - max buffered lines per tunnel (FIFO eviction)
 */
type LogHubConfig struct {
	Capacity int `mapstructure:"capacity"`
}

/**
 * Database configuration
 * @property {string} path - sqlite database file path
 */
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

/**
 * Health monitoring configuration
 * @property {int} interval - seconds between tunnel port probes, 0 disables
 */
type MonitorConfig struct {
	Interval int `mapstructure:"interval"`
}

var ErrTunnelNotFound = errors.New("tunnel not found")
var ErrHostNotFound = errors.New("host not found")

type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	LogHub   LogHubConfig   `mapstructure:"loghub"`
	Database DatabaseConfig `mapstructure:"database"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

/**
 * Load application configuration from YAML file
 */
func LoadConfig() (*AppConfig, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(env.PortpilotDir)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var Config AppConfig

func collectConfig(cfg *AppConfig) *AppConfig {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1:8719"
	}
	if cfg.SSH.Binary == "" {
		cfg.SSH.Binary = "ssh"
	}
	if cfg.SSH.GracePeriod <= 0 {
		// SIGTERM之后等3秒再SIGKILL
		cfg.SSH.GracePeriod = 3 * time.Second
	}
	if cfg.LogHub.Capacity <= 0 {
		cfg.LogHub.Capacity = 500
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(env.PortpilotDir, "portpilot.db")
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 30
	}
	return cfg
}

/**
 * Reload application configuration from disk
 * @returns {error} Returns error if config file is unreadable
 * @description
 * - Re-reads config.yaml and replaces the global Config
 * - Falls back to defaults for fields left empty
 */
func ReloadConfig() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	Config = *cfg
	collectConfig(&Config)
	return nil
}

func init() {
	cfg, err := LoadConfig()
	if err == nil {
		Config = *cfg
	}
	collectConfig(&Config)
}
