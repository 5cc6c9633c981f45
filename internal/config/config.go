// Package config loads service configuration from an optional yaml file
// with EXCHANGE_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPConfig holds the HTTP server settings.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel    string        `mapstructure:"log_level"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	HTTP        HTTPConfig    `mapstructure:"http"`

	// MaxOrderQuantity caps a single order's contract count.
	MaxOrderQuantity int64 `mapstructure:"max_order_quantity"`

	// StartingBalance is credited to accounts on first reference.
	StartingBalance string `mapstructure:"starting_balance"`

	// AdminToken guards the deposit endpoint. Empty disables deposits.
	AdminToken string `mapstructure:"admin_token"`

	// WSAllowedOrigins restricts WebSocket upgrades to these Origin values.
	// Empty allows any origin.
	WSAllowedOrigins []string `mapstructure:"ws_allowed_origins"`
}

// Load reads configuration from path (default config.yaml, missing file is
// fine) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A missing file is fine; a broken one is not.
			if !strings.Contains(err.Error(), "no such file") {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", 30*time.Second)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("max_order_quantity", 1000)
	v.SetDefault("starting_balance", "0")
	v.SetDefault("admin_token", "")
	v.SetDefault("ws_allowed_origins", []string{})
}
