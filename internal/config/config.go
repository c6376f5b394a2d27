// Package config loads chat client settings from CHAT_* environment
// variables, an optional config file and command line overrides, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/omochice/chat-session/internal/client"
	"github.com/omochice/chat-session/internal/logging"
	"github.com/omochice/chat-session/internal/transport/dial"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CHAT_"

// Config is the complete client configuration.
type Config struct {
	Endpoint         string         `mapstructure:"endpoint" env:"ENDPOINT" envDefault:"ws://localhost:8000/ws/chat"`
	ChatID           string         `mapstructure:"chat_id" env:"CHAT_ID" envDefault:"1"`
	Transport        string         `mapstructure:"transport" env:"TRANSPORT" envDefault:"nhooyr"`
	HandshakeTimeout time.Duration  `mapstructure:"handshake_timeout" env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	WriteTimeout     time.Duration  `mapstructure:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"5s"`
	CloseTimeout     time.Duration  `mapstructure:"close_timeout" env:"CLOSE_TIMEOUT" envDefault:"5s"`
	Backoff          Backoff        `mapstructure:"backoff" envPrefix:"BACKOFF_"`
	Log              logging.Config `mapstructure:"log" envPrefix:"LOG_"`
}

// Backoff configures reconnection delays.
type Backoff struct {
	Initial     time.Duration `mapstructure:"initial" env:"INITIAL" envDefault:"500ms"`
	Max         time.Duration `mapstructure:"max" env:"MAX" envDefault:"30s"`
	Multiplier  float64       `mapstructure:"multiplier" env:"MULTIPLIER" envDefault:"2"`
	Jitter      float64       `mapstructure:"jitter" env:"JITTER" envDefault:"0.5"`
	MaxAttempts int           `mapstructure:"max_attempts" env:"MAX_ATTEMPTS" envDefault:"5"`
}

// Policy converts b to the client's retry policy.
func (b Backoff) Policy() client.RetryPolicy {
	return client.RetryPolicy{
		InitialInterval: b.Initial,
		MaxInterval:     b.Max,
		Multiplier:      b.Multiplier,
		Jitter:          b.Jitter,
		MaxAttempts:     b.MaxAttempts,
	}
}

// Load reads the environment, then the file at path when path is not
// empty, then applies overrides keyed like the file ("backoff.max_attempts").
func Load(path string, overrides map[string]any) (*Config, error) {
	var base Config
	if err := env.ParseWithOptions(&base, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}

	v := viper.New()
	base.setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", c.Endpoint)
	v.SetDefault("chat_id", c.ChatID)
	v.SetDefault("transport", c.Transport)
	v.SetDefault("handshake_timeout", c.HandshakeTimeout)
	v.SetDefault("write_timeout", c.WriteTimeout)
	v.SetDefault("close_timeout", c.CloseTimeout)
	v.SetDefault("backoff.initial", c.Backoff.Initial)
	v.SetDefault("backoff.max", c.Backoff.Max)
	v.SetDefault("backoff.multiplier", c.Backoff.Multiplier)
	v.SetDefault("backoff.jitter", c.Backoff.Jitter)
	v.SetDefault("backoff.max_attempts", c.Backoff.MaxAttempts)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.file", c.Log.File)
	v.SetDefault("log.max_size_mb", c.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", c.Log.MaxBackups)
}

// Validate checks every field the client would otherwise reject later.
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: want ws:// or wss:// with a host", c.Endpoint)
	}
	if c.ChatID == "" {
		return errors.New("chat_id must not be empty")
	}
	if !slices.Contains(dial.Names, c.Transport) {
		return fmt.Errorf("unknown transport %q, want one of %v", c.Transport, dial.Names)
	}
	if c.HandshakeTimeout <= 0 || c.WriteTimeout <= 0 || c.CloseTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if err := c.Backoff.Policy().Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// ChatIDValue returns the chat id as an integer when it is the canonical
// decimal form of one, as the endpoint expects, and as a string otherwise,
// so ids such as "007" or "+1" are sent unchanged.
func (c Config) ChatIDValue() any {
	if n, err := strconv.ParseInt(c.ChatID, 10, 64); err == nil && strconv.FormatInt(n, 10) == c.ChatID {
		return n
	}
	return c.ChatID
}

// ClientOptions translates c into options for client.New.
func (c Config) ClientOptions() ([]client.Option, error) {
	d, err := dial.New(c.Transport)
	if err != nil {
		return nil, err
	}
	return []client.Option{
		client.WithDialer(d),
		client.WithChatID(c.ChatIDValue()),
		client.WithRetryPolicy(c.Backoff.Policy()),
		client.WithHandshakeTimeout(c.HandshakeTimeout),
		client.WithWriteTimeout(c.WriteTimeout),
		client.WithCloseTimeout(c.CloseTimeout),
	}, nil
}
