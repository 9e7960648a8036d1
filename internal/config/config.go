package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Security SecurityConfig `mapstructure:"security"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type ChainConfig struct {
	GatewayURL      string        `mapstructure:"gateway_url"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	MaxFailures     int           `mapstructure:"max_failures"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	StartupLookback int64         `mapstructure:"startup_lookback"`
}

type WorkerConfig struct {
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	OutboxBatchSize   int           `mapstructure:"outbox_batch_size"`
	OutboxInterval    time.Duration `mapstructure:"outbox_interval"`
}

type SecurityConfig struct {
	// EncryptionKey protects patient references at rest. 16, 24 or 32 bytes.
	EncryptionKey string `mapstructure:"encryption_key"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	// RateLimit is requests per second per client on the dispense surface.
	RateLimit float64 `mapstructure:"rate_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("RXLEDGER")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Environment-only deployments carry no config file.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeout_seconds", 30)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("chain.call_timeout", 15*time.Second)
	viper.SetDefault("chain.max_failures", 5)
	viper.SetDefault("chain.cooldown", 30*time.Second)
	viper.SetDefault("chain.startup_lookback", 1000)
	viper.SetDefault("worker.sweep_interval", time.Hour)
	viper.SetDefault("worker.reconcile_interval", 30*time.Second)
	viper.SetDefault("worker.outbox_batch_size", 50)
	viper.SetDefault("worker.outbox_interval", 5*time.Second)
	viper.SetDefault("security.rate_limit", 20)
	viper.SetDefault("log.level", "info")
}

func (c *Config) validate() error {
	if c.Chain.GatewayURL == "" {
		return fmt.Errorf("chain.gateway_url is required")
	}
	switch len(c.Security.EncryptionKey) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("security.encryption_key must be 16, 24 or 32 bytes")
	}
	return nil
}
