package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `koanf:"app"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	WhatsApp WhatsAppConfig `koanf:"whatsapp"`
	Engine   EngineConfig   `koanf:"engine"`
	Phone    PhoneConfig    `koanf:"phone"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	ReadTimeout  int    `koanf:"read_timeout"`
	WriteTimeout int    `koanf:"write_timeout"`
}

type DatabaseConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	User            string `koanf:"user"`
	Password        string `koanf:"password"`
	Name            string `koanf:"name"`
	SSLMode         string `koanf:"ssl_mode"`
	MaxOpenConns    int    `koanf:"max_open_conns"`
	MaxIdleConns    int    `koanf:"max_idle_conns"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type WhatsAppConfig struct {
	WebhookVerifyToken string `koanf:"webhook_verify_token"`
	APIVersion         string `koanf:"api_version"`
	BaseURL            string `koanf:"base_url"` // Meta Graph API base URL
}

// EngineConfig tunes the queue processor and scheduler
type EngineConfig struct {
	TickMs                   int `koanf:"tick_ms"`
	BatchSize                int `koanf:"batch_size"`
	MaxRetries               int `koanf:"max_retries"`
	BackoffBaseSeconds       int `koanf:"backoff_base_seconds"`
	BackoffMaxSeconds        int `koanf:"backoff_max_seconds"`
	SpamWindowMinutes        int `koanf:"spam_window_minutes"`
	SpamThreshold            int `koanf:"spam_threshold"`
	SpamFirstPauseMinutes    int `koanf:"spam_first_pause_minutes"`
	ProcessingGraceMinutes   int `koanf:"processing_grace_minutes"`
	SchedulerIntervalSeconds int `koanf:"scheduler_interval_seconds"`
	SendTimeoutSeconds       int `koanf:"send_timeout_seconds"`
	MaxWorkers               int `koanf:"max_workers"`
}

// PhoneConfig controls recipient phone validation
type PhoneConfig struct {
	CountryPrefix string `koanf:"country_prefix"`
	TotalDigits   int    `koanf:"total_digits"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Load from config file if provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, err
		}
	}

	// Load from environment variables (BULKWAVE_ prefix). Only the first
	// underscore separates the section, so BULKWAVE_ENGINE_BATCH_SIZE maps
	// to engine.batch_size.
	if err := k.Load(env.Provider("BULKWAVE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BULKWAVE_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	setDefaults(&cfg)

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "Bulkwave"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.WhatsApp.APIVersion == "" {
		cfg.WhatsApp.APIVersion = "v18.0"
	}
	if cfg.WhatsApp.BaseURL == "" {
		cfg.WhatsApp.BaseURL = "https://graph.facebook.com"
	}
	if cfg.Engine.TickMs == 0 {
		cfg.Engine.TickMs = 100
	}
	if cfg.Engine.BatchSize == 0 {
		cfg.Engine.BatchSize = 100
	}
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = 3
	}
	if cfg.Engine.BackoffBaseSeconds == 0 {
		cfg.Engine.BackoffBaseSeconds = 30
	}
	if cfg.Engine.BackoffMaxSeconds == 0 {
		cfg.Engine.BackoffMaxSeconds = 600
	}
	if cfg.Engine.SpamWindowMinutes == 0 {
		cfg.Engine.SpamWindowMinutes = 10
	}
	if cfg.Engine.SpamThreshold == 0 {
		cfg.Engine.SpamThreshold = 5
	}
	if cfg.Engine.SpamFirstPauseMinutes == 0 {
		cfg.Engine.SpamFirstPauseMinutes = 30
	}
	if cfg.Engine.ProcessingGraceMinutes == 0 {
		cfg.Engine.ProcessingGraceMinutes = 10
	}
	if cfg.Engine.SchedulerIntervalSeconds == 0 {
		cfg.Engine.SchedulerIntervalSeconds = 30
	}
	if cfg.Engine.SendTimeoutSeconds == 0 {
		cfg.Engine.SendTimeoutSeconds = 15
	}
	if cfg.Engine.MaxWorkers == 0 {
		cfg.Engine.MaxWorkers = 16
	}
	if cfg.Phone.CountryPrefix == "" {
		cfg.Phone.CountryPrefix = "91"
	}
	if cfg.Phone.TotalDigits == 0 {
		cfg.Phone.TotalDigits = 12
	}
}
