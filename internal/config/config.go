// Package config loads server settings from defaults, an optional config
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr  string      `mapstructure:"addr"`
	DB    DBConfig    `mapstructure:"db"`
	JWT   JWTConfig   `mapstructure:"jwt"`
	Redis RedisConfig `mapstructure:"redis"`
	Hub   HubConfig   `mapstructure:"hub"`
	Log   LogConfig   `mapstructure:"log"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// RedisConfig enables the cross-instance relay when Addr is set.
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}

type HubConfig struct {
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	TypingTimeout    time.Duration   `mapstructure:"typing_timeout"`
	SendBuffer       int             `mapstructure:"send_buffer"`
	MaxMessageSize   int64           `mapstructure:"max_message_size"`
	AllowedOrigins   []string        `mapstructure:"allowed_origins"`
	VerifyTargets    bool            `mapstructure:"verify_targets"`
	LegacyPresence   bool            `mapstructure:"legacy_presence"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Burst    int           `mapstructure:"burst"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var (
	ErrMissingDSN    = errors.New("DB_DSN is not set")
	ErrMissingSecret = errors.New("JWT_SECRET is not set")
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("db.dsn", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel", "friendchat:deliveries")
	v.SetDefault("hub.handshake_timeout", 5*time.Second)
	v.SetDefault("hub.typing_timeout", 5*time.Second)
	v.SetDefault("hub.send_buffer", 256)
	v.SetDefault("hub.max_message_size", 8192)
	v.SetDefault("hub.allowed_origins", []string{"*"})
	v.SetDefault("hub.verify_targets", true)
	v.SetDefault("hub.legacy_presence", false)
	v.SetDefault("hub.rate_limit.burst", 20)
	v.SetDefault("hub.rate_limit.interval", time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads path (when not empty) and the environment on top of the
// defaults. DB_DSN maps to db.dsn, HUB_TYPING_TIMEOUT to hub.typing_timeout.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks what serving needs. Migrations only need the DSN.
func (c *Config) Validate() error {
	if c.DB.DSN == "" {
		return ErrMissingDSN
	}
	if c.JWT.Secret == "" {
		return ErrMissingSecret
	}
	return nil
}
