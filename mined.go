package mined

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mined-project/mined/internal/command"
	cfg "github.com/mined-project/mined/internal/config"
	"github.com/mined-project/mined/internal/daemon"
	"github.com/mined-project/mined/internal/history"
	"github.com/mined-project/mined/internal/logger"
	"github.com/mined-project/mined/internal/metrics"
	"github.com/mined-project/mined/internal/protocol"
	"github.com/mined-project/mined/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = server.Spec

type Status = server.Status

const (
	StatusStopped  = server.StatusStopped
	StatusStarting = server.StatusStarting
	StatusRunning  = server.StatusRunning
	StatusStopping = server.StatusStopping
)

type Data = server.Data

type Command = command.Command

type CommandResponse = command.CommandResponse

type ResponseType = command.ResponseType

type ErrorKind = command.ErrorKind

const (
	RespUpdateServers = command.RespUpdateServers
	RespUpdateServer  = command.RespUpdateServer
	RespError         = command.RespError
)

const (
	ErrServerNotFound = command.ErrServerNotFound
	ErrLaunchFailed   = command.ErrLaunchFailed
	ErrStopFailed     = command.ErrStopFailed
)

type HistorySink = history.Sink

type Config = cfg.Config

// Daemon is a thin facade over internal/daemon.Daemon.
// It provides a stable public API for embedding.

type Daemon struct{ inner *daemon.Daemon }

func New(c *Config, log *slog.Logger) (*Daemon, error) {
	d, err := daemon.New(c, log)
	if err != nil {
		return nil, err
	}
	return &Daemon{inner: d}, nil
}

func (d *Daemon) Start(ctx context.Context) <-chan error { return d.inner.Start(ctx) }
func (d *Daemon) Shutdown(ctx context.Context)           { d.inner.Shutdown(ctx) }

func LoadConfig(path string, log *slog.Logger) (*Config, error) {
	return cfg.Load(path, log)
}

func NewLogger(level string, color bool) *slog.Logger { return logger.New(level, color) }

// Wire helpers for clients speaking the command socket.

func GetServers() Command        { return command.GetServers() }
func StartServer(id int) Command { return command.StartServer(id) }
func StopServer(id int) Command  { return command.StopServer(id) }

func MarshalCommand(c Command) ([]byte, error) { return protocol.Marshal(c) }
func UnmarshalResponse(b []byte) (CommandResponse, error) {
	var r CommandResponse
	err := protocol.Unmarshal(b, &r)
	return r, err
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.RegisterDefault() }
