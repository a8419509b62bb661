package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/mined-project/mined/internal/logger"
	"github.com/mined-project/mined/internal/server"
)

// CurrentVersion is the config format version this build understands. A
// file declaring a higher version is fatal at startup; a lower one loads
// with a warning.
const CurrentVersion uint64 = 1

// FileConfig represents the top-level YAML structure.
type FileConfig struct {
	Version      uint64         `mapstructure:"version"`
	Listen       string         `mapstructure:"listen"`
	Website      string         `mapstructure:"website"`
	PollInterval time.Duration  `mapstructure:"poll_interval"`
	Log          LogConfig      `mapstructure:"log"`
	ServerLog    logger.Config  `mapstructure:"server_log"`
	History      HistoryConfig  `mapstructure:"history"`
	Metrics      MetricsConfig  `mapstructure:"metrics"`
	Servers      []ServerConfig `mapstructure:"servers"`
}

// LogConfig controls the daemon's own structured logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Color bool   `mapstructure:"color"`
}

// HistoryConfig selects an optional transition-history sink by DSN.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MetricsConfig controls the prometheus endpoint. An empty Listen mounts
// /metrics on the main server instead of a dedicated one.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ServerConfig is one game server declaration. Config order assigns server
// ids for the process lifetime.
type ServerConfig struct {
	Name      string         `mapstructure:"name"`
	Command   string         `mapstructure:"command"`
	WorkDir   string         `mapstructure:"workdir"`
	Port      int            `mapstructure:"port"`
	StopGrace time.Duration  `mapstructure:"stop_grace"`
	Log       *logger.Config `mapstructure:"log"`
}

// Config is the validated, loaded configuration.
type Config struct {
	Listen       string
	Website      string
	PollInterval time.Duration
	Log          LogConfig
	History      HistoryConfig
	Metrics      MetricsConfig
	Specs        []server.Spec
}

// Load reads and validates the YAML config at path. A missing or
// unparsable file and an unsupported version are fatal; an outdated version
// only warns via log.
func Load(path string, log *slog.Logger) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if fc.Version > CurrentVersion {
		return nil, fmt.Errorf("config version %d is newer than supported version %d", fc.Version, CurrentVersion)
	}
	if fc.Version < CurrentVersion {
		log.Warn("config version is outdated, please update",
			"version", fc.Version, "current", CurrentVersion)
	}
	if len(fc.Servers) == 0 {
		return nil, fmt.Errorf("config %s declares no servers", path)
	}

	cfg := &Config{
		Listen:       fc.Listen,
		Website:      fc.Website,
		PollInterval: fc.PollInterval,
		Log:          fc.Log,
		History:      fc.History,
		Metrics:      fc.Metrics,
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:3000"
	}

	cfg.Specs = make([]server.Spec, 0, len(fc.Servers))
	seen := make(map[string]struct{}, len(fc.Servers))
	for i, sc := range fc.Servers {
		spec := server.Spec{
			Name:      sc.Name,
			Command:   sc.Command,
			WorkDir:   sc.WorkDir,
			Port:      sc.Port,
			StopGrace: sc.StopGrace,
			Log:       fc.ServerLog,
		}
		if sc.Log != nil {
			spec.Log = *sc.Log
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("servers[%d]: duplicate server name %q", i, spec.Name)
		}
		seen[spec.Name] = struct{}{}
		cfg.Specs = append(cfg.Specs, spec)
	}
	return cfg, nil
}
