package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Upload   UploadConfig   `yaml:"upload"`
	Auth     AuthConfig     `yaml:"auth"`
	Queue    QueueConfig    `yaml:"queue"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type UploadConfig struct {
	Dir           string `yaml:"dir"`
	MaxFileSizeMB int64  `yaml:"max_file_size_mb"`
}

type AuthConfig struct {
	// Bootstrap admin account created on first startup.
	AdminUsername      string `yaml:"admin_username"`
	AdminPassword      string `yaml:"admin_password"`
	SessionExpiryHours int    `yaml:"session_expiry_hours"`
	TokenLength        int    `yaml:"token_length"`
}

type QueueConfig struct {
	// MaxTries is the attempt budget before an experiment is marked
	// failed_permanently.
	MaxTries int `yaml:"max_tries"`
	// TimeoutMinutes bounds how long an experiment may sit in running
	// before the reclaim sweep picks it up.
	TimeoutMinutes int `yaml:"timeout_minutes"`
	// WatchIntervalSeconds is the poll interval of the worker in watch mode.
	WatchIntervalSeconds int `yaml:"watch_interval_seconds"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	config.applyDefaults()

	return &config, nil
}

// Default returns a config with all defaults applied, for callers that run
// without a config file.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "reactor.db"
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = "uploads"
	}
	if c.Upload.MaxFileSizeMB == 0 {
		c.Upload.MaxFileSizeMB = 50
	}
	if c.Auth.SessionExpiryHours == 0 {
		c.Auth.SessionExpiryHours = 24
	}
	if c.Auth.TokenLength == 0 {
		c.Auth.TokenLength = 32
	}
	if c.Queue.MaxTries == 0 {
		c.Queue.MaxTries = 3
	}
	if c.Queue.TimeoutMinutes == 0 {
		c.Queue.TimeoutMinutes = 15
	}
	if c.Queue.WatchIntervalSeconds == 0 {
		c.Queue.WatchIntervalSeconds = 60
	}
}

func (c *Config) ExperimentTimeout() time.Duration {
	return time.Duration(c.Queue.TimeoutMinutes) * time.Minute
}

func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Queue.WatchIntervalSeconds) * time.Second
}

func (c *Config) MaxUploadBytes() int64 {
	return c.Upload.MaxFileSizeMB * 1024 * 1024
}
