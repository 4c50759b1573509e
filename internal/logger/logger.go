// Package logger builds the structured logger shared by every component.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

type config struct {
	level  string
	json   bool
	writer io.Writer
	prefix string
}

// Option configures a logger created with New.
type Option func(*config)

// WithLevel sets the minimum level (debug, info, warn, error). Unknown
// values fall back to info.
func WithLevel(level string) Option {
	return func(c *config) { c.level = level }
}

// WithJSON switches to JSON output for service logs.
func WithJSON(json bool) Option {
	return func(c *config) { c.json = json }
}

// WithWriter overrides the output writer. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writer = w }
}

// WithPrefix sets the root prefix.
func WithPrefix(prefix string) Option {
	return func(c *config) { c.prefix = prefix }
}

// New returns a timestamped charmbracelet logger.
func New(opts ...Option) *log.Logger {
	cfg := &config{level: "info", writer: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}

	level, err := log.ParseLevel(cfg.level)
	if err != nil {
		level = log.InfoLevel
	}

	l := log.NewWithOptions(cfg.writer, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
		Prefix:          cfg.prefix,
	})
	if cfg.json {
		l.SetFormatter(log.JSONFormatter)
	}
	return l
}

// Discard returns a logger that writes nowhere. Useful as a default for
// optional logger fields and in tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}
