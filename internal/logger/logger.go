package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for captured server output.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes log destinations for a managed server's stdout/stderr.
// If StdoutPath/StderrPath are empty and Dir is set, files will be
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `json:"dir,omitempty" mapstructure:"dir"`
	StdoutPath string `json:"stdout,omitempty" mapstructure:"stdout"`
	StderrPath string `json:"stderr,omitempty" mapstructure:"stderr"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups,omitempty" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days,omitempty" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress,omitempty" mapstructure:"compress"`
}

// Writers returns io.WriteClosers for stdout and stderr of the server name.
// Either writer may be nil when no destination is configured for it.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = c.newRotating(stdout)
	}
	if stderr != "" {
		errW = c.newRotating(stderr)
	}
	return outW, errW, nil
}

func (c Config) newRotating(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New builds the daemon's slog.Logger. level is one of debug, info, warn,
// error (default info). When color is true the colorized text handler is
// used, otherwise plain text.
func New(level string, color bool) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}
	if color {
		return slog.New(NewColorTextHandler(os.Stderr, opts, true))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
