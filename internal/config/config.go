package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Lifecycle LifecycleConfig
	Knowledge KnowledgeConfig
	Notify    NotifyConfig
	FollowUp  FollowUpConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type LifecycleConfig struct {
	// FollowUpMinutes is used when a supervisor defers a request without
	// naming a follow-up window.
	FollowUpMinutes int
}

type KnowledgeConfig struct {
	DefaultTopic string
}

type NotifyConfig struct {
	// PollInterval is how often the worker checks the outbox when it is idle.
	PollInterval  time.Duration
	RatePerSecond float64
}

type FollowUpConfig struct {
	SweepInterval time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Lifecycle: LifecycleConfig{
			FollowUpMinutes: 30,
		},
		Knowledge: KnowledgeConfig{
			DefaultTopic: "General",
		},
		Notify: NotifyConfig{
			PollInterval:  2 * time.Second,
			RatePerSecond: 5,
		},
		FollowUp: FollowUpConfig{
			SweepInterval: time.Minute,
		},
	}
}

// Load reads configuration from the JSON config file and environment
// variables.
//
// The file lives at $ESCALATOR_CONFIG_FILE when set, otherwise at
// $XDG_CONFIG_HOME/escalator/config.json (~/.config when XDG is unset).
// Environment variables (ESCALATOR_*) override file values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d is out of range", c.Server.Port)
	}
	if c.Lifecycle.FollowUpMinutes < 1 {
		return fmt.Errorf("invalid config: lifecycle.follow_up_minutes must be positive, got %d", c.Lifecycle.FollowUpMinutes)
	}
	if c.Notify.RatePerSecond < 0 {
		return fmt.Errorf("invalid config: notify.rate_per_second must not be negative, got %v", c.Notify.RatePerSecond)
	}
	if c.Notify.PollInterval <= 0 {
		return fmt.Errorf("invalid config: notify.poll_interval must be positive, got %s", c.Notify.PollInterval)
	}
	if c.FollowUp.SweepInterval <= 0 {
		return fmt.Errorf("invalid config: followup.sweep_interval must be positive, got %s", c.FollowUp.SweepInterval)
	}
	return nil
}

// Addr is the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// BaseURL is the URL CLI commands use to reach a running server.
func (c Config) BaseURL() string {
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}
