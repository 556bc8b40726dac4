package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAddr              = ":5000"
	defaultReadHeaderTimeout = 10 * time.Second
	defaultDrainTimeout      = 30 * time.Second

	configName = "webfront"
	envPrefix  = "WEBFRONT"
)

// fileConfig mirrors the config file and environment variables.
type fileConfig struct {
	Env       string `mapstructure:"env" validate:"omitempty,oneof=development production"`
	SecretKey string `mapstructure:"secret_key"`

	Server struct {
		Addr              string        `mapstructure:"addr" validate:"required,hostname_port"`
		ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gte=0"`
		DrainTimeout      time.Duration `mapstructure:"drain_timeout" validate:"gt=0"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	} `mapstructure:"log"`

	Templates struct {
		Dir        string `mapstructure:"dir"`
		AutoReload *bool  `mapstructure:"auto_reload"`
	} `mapstructure:"templates"`
}

// NewViper creates a Viper instance reading configFile, or webfront.yaml
// from the standard locations when configFile is empty, with WEBFRONT_*
// environment overrides. FLASK_ENV and SECRET_KEY are accepted as legacy
// names for the mode and secret key.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		// No search paths: ReadInConfig returns ConfigFileNotFoundError.
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("env", envPrefix+"_ENV", "FLASK_ENV")
	_ = v.BindEnv("secret_key", envPrefix+"_SECRET_KEY", "SECRET_KEY")
	_ = v.BindEnv("server.addr")
	_ = v.BindEnv("server.read_header_timeout")
	_ = v.BindEnv("server.drain_timeout")
	_ = v.BindEnv("log.level")
	_ = v.BindEnv("templates.dir")
	_ = v.BindEnv("templates.auto_reload")

	v.SetDefault("server.addr", defaultAddr)
	v.SetDefault("server.read_header_timeout", defaultReadHeaderTimeout)
	v.SetDefault("server.drain_timeout", defaultDrainTimeout)

	return v
}

// findConfigFile looks for webfront.yaml or webfront.yml with an explicit
// extension, so the binary itself is never matched.
func findConfigFile() string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".webfront"))
	}
	paths = append(paths, "/etc/webfront")
	return findConfigFileInPaths(paths)
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Load reads the config file (if any), applies environment overrides,
// validates the result and resolves it against the mode's profile.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: environment and defaults only.
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	fc.Env = strings.ToLower(strings.TrimSpace(fc.Env))
	fc.Log.Level = strings.ToLower(strings.TrimSpace(fc.Log.Level))

	if err := fc.validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return fc.resolve()
}

func (fc *fileConfig) resolve() (Config, error) {
	mode, err := ParseMode(fc.Env)
	if err != nil {
		return Config{}, err
	}
	cfg := New(mode)

	if fc.Log.Level != "" {
		level, err := ParseLogLevel(fc.Log.Level)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}
	if fc.SecretKey != "" {
		cfg.SecretKey = fc.SecretKey
	}
	cfg.Server = ServerConfig{
		Addr:              fc.Server.Addr,
		ReadHeaderTimeout: fc.Server.ReadHeaderTimeout,
		DrainTimeout:      fc.Server.DrainTimeout,
	}
	cfg.TemplatesDir = fc.Templates.Dir
	if fc.Templates.AutoReload != nil {
		cfg.TemplatesAutoReload = *fc.Templates.AutoReload
	}
	return cfg, nil
}
