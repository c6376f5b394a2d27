// Package logging builds the slog logger used by the command line client.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the handler, level and destination of log records.
// An empty File writes to the fallback writer passed to New.
type Config struct {
	Level      string `mapstructure:"level" env:"LEVEL" envDefault:"info"`
	Format     string `mapstructure:"format" env:"FORMAT" envDefault:"text"`
	File       string `mapstructure:"file" env:"FILE"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" env:"MAX_SIZE_MB" envDefault:"10"`
	MaxBackups int    `mapstructure:"max_backups" env:"MAX_BACKUPS" envDefault:"3"`
}

// Validate reports an unknown level or format.
func (c Config) Validate() error {
	if _, err := c.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var lvl slog.Level
	if c.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("failed to parse log level: %w", err)
	}
	return lvl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger writing to cfg.File through a rotating writer, or to
// fallback when no file is configured. The closer releases the file.
func New(cfg Config, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	lvl, _ := cfg.level()

	w := fallback
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		w, closer = rotating, rotating
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer, nil
}
