package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway process. Values come from
// config.defaults.yaml, overridden by APP_-prefixed environment variables
// (e.g. APP_REDIS_ADDR, APP_LOG_LEVEL).
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPPort int    `mapstructure:"HTTP_PORT"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// PostgresDSN enables the delivery outcome archive when non-empty.
	PostgresDSN string `mapstructure:"POSTGRES_DSN"`

	// NATSUrl enables outward republishing of inbound messages/events when
	// non-empty.
	NATSUrl string `mapstructure:"NATS_URL"`

	// ProviderBaseURL selects the upstream platform API. Empty switches the
	// gateway to the in-memory mock provider (local runs).
	ProviderBaseURL string        `mapstructure:"PROVIDER_BASE_URL"`
	ProviderTimeout time.Duration `mapstructure:"PROVIDER_TIMEOUT"`

	// Credential watchdog.
	GuardInterval    time.Duration `mapstructure:"GUARD_INTERVAL"`
	CredentialMargin time.Duration `mapstructure:"CREDENTIAL_MARGIN"`

	// Tracking records are erased this long after their send time.
	StatusRetention time.Duration `mapstructure:"STATUS_RETENTION"`

	// Worker counts per job queue.
	PlatformWorkers    int `mapstructure:"PLATFORM_WORKERS"`
	ScheduleWorkers    int `mapstructure:"SCHEDULE_WORKERS"`
	MessageWorkers     int `mapstructure:"MESSAGE_WORKERS"`
	MessageHighWorkers int `mapstructure:"MESSAGE_HIGH_WORKERS"`

	// How often the job server promotes due scheduled jobs, and how often
	// the ingest pumps poll their FIFOs.
	JobPollInterval  time.Duration `mapstructure:"JOB_POLL_INTERVAL"`
	PumpPollInterval time.Duration `mapstructure:"PUMP_POLL_INTERVAL"`
}

// Load reads configuration from the configs directory and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config.defaults")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetEnvPrefix("APP")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("PROVIDER_BASE_URL", "")
	v.SetDefault("PROVIDER_TIMEOUT", "15s")
	v.SetDefault("GUARD_INTERVAL", "60s")
	v.SetDefault("CREDENTIAL_MARGIN", "30m")
	v.SetDefault("STATUS_RETENTION", "6h")
	v.SetDefault("PLATFORM_WORKERS", 2)
	v.SetDefault("SCHEDULE_WORKERS", 1)
	v.SetDefault("MESSAGE_WORKERS", 4)
	v.SetDefault("MESSAGE_HIGH_WORKERS", 2)
	v.SetDefault("JOB_POLL_INTERVAL", "1s")
	v.SetDefault("PUMP_POLL_INTERVAL", "500ms")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("config.defaults.yaml not found; using defaults and environment variables")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
