// Package config turns the operating mode and optional overrides into an
// immutable configuration record.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Mode is the process-wide operating mode, fixed for the process lifetime.
type Mode string

const (
	Development Mode = "development"
	Production  Mode = "production"
)

// InsecureSecretKey is used when no secret key is configured.
const InsecureSecretKey = "insecure-default-key"

// ParseMode parses a mode name case-insensitively. An empty name selects
// Production.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Production:
		return Production, nil
	case Development:
		return Development, nil
	}
	return "", fmt.Errorf("unknown operating mode %q (want development or production)", s)
}

func (m Mode) String() string { return string(m) }

// IsDevelopment reports whether m is Development.
func (m Mode) IsDevelopment() bool { return m == Development }

// profile holds the per-mode defaults.
type profile struct {
	debug               bool
	templatesAutoReload bool
	logLevel            slog.Level
}

var profiles = map[Mode]profile{
	Development: {debug: true, templatesAutoReload: true, logLevel: slog.LevelDebug},
	Production:  {debug: false, templatesAutoReload: false, logLevel: slog.LevelInfo},
}

// Config is the resolved configuration. Build it with New or Load and
// pass it by value.
type Config struct {
	Mode                Mode
	Debug               bool
	TemplatesAutoReload bool
	TemplatesDir        string
	LogLevel            slog.Level
	SecretKey           string
	Server              ServerConfig
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	DrainTimeout      time.Duration
}

// New returns the defaults for mode.
func New(mode Mode) Config {
	p, ok := profiles[mode]
	if !ok {
		mode, p = Production, profiles[Production]
	}
	return Config{
		Mode:                mode,
		Debug:               p.debug,
		TemplatesAutoReload: p.templatesAutoReload,
		LogLevel:            p.logLevel,
		SecretKey:           InsecureSecretKey,
		Server: ServerConfig{
			Addr:              defaultAddr,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
			DrainTimeout:      defaultDrainTimeout,
		},
	}
}

// InsecureSecret reports whether production runs on the default secret.
func (c Config) InsecureSecret() bool {
	return c.Mode == Production && c.SecretKey == InsecureSecretKey
}

// ParseLogLevel converts a level name to slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}
