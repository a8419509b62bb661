// Package daemon assembles the registry, launcher, hub, poller and HTTP
// surface into one runnable control plane.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mined-project/mined/internal/command"
	"github.com/mined-project/mined/internal/config"
	"github.com/mined-project/mined/internal/history"
	historyfactory "github.com/mined-project/mined/internal/history/factory"
	"github.com/mined-project/mined/internal/hub"
	"github.com/mined-project/mined/internal/metrics"
	"github.com/mined-project/mined/internal/poller"
	"github.com/mined-project/mined/internal/registry"
	"github.com/mined-project/mined/internal/server"
	"github.com/mined-project/mined/internal/wsapi"
)

// Daemon is the assembled control plane for one config.
type Daemon struct {
	cfg      *config.Config
	log      *slog.Logger
	reg      *registry.Registry
	launcher *server.Launcher
	hub      *hub.Hub
	proc     *command.Processor
	poll     *poller.Poller
	hist     history.Sink
	srv      *http.Server
	metrics  *http.Server
	cancel   context.CancelFunc
}

// New wires a daemon from loaded config. Nothing runs until Start.
func New(cfg *config.Config, log *slog.Logger) (*Daemon, error) {
	d := &Daemon{cfg: cfg, log: log}
	d.reg = registry.New(cfg.Specs)
	d.launcher = server.NewLauncher(cfg.Specs, log)
	d.hub = hub.New(log)
	d.proc = command.NewProcessor(d.reg, d.launcher, log)
	d.poll = poller.New(d.reg, d.launcher, d.hub, cfg.PollInterval, log)

	if cfg.History.DSN != "" {
		sink, err := historyfactory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		d.hist = sink
		d.proc.SetHistorySink(sink)
		d.poll.SetHistorySink(sink)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.RegisterDefault(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		for _, s := range cfg.Specs {
			metrics.SetServerState(s.Name, server.StatusStopped.String())
		}
	}

	mountMetrics := cfg.Metrics.Enabled && cfg.Metrics.Listen == ""
	router := wsapi.NewRouter(d.hub, d.proc, cfg.Website, mountMetrics, log)
	d.srv = wsapi.NewServer(cfg.Listen, router)

	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		d.metrics = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}
	return d, nil
}

// Start launches the poller and HTTP listeners. It returns once the
// listeners are spawned; Run errors surface through the error channel
// returned here.
func (d *Daemon) Start(ctx context.Context) <-chan error {
	ctx, d.cancel = context.WithCancel(ctx)
	errCh := make(chan error, 2)

	go d.poll.Run(ctx)

	go func() {
		d.log.Info("listening", "addr", d.cfg.Listen)
		if err := d.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if d.metrics != nil {
		go func() {
			d.log.Info("metrics listening", "addr", d.metrics.Addr)
			if err := d.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	return errCh
}

// Shutdown stops the poller, listeners, hub and every managed server
// process. Safe to call once after Start.
func (d *Daemon) Shutdown(ctx context.Context) {
	if d.cancel != nil {
		d.cancel()
	}
	d.poll.Stop()
	_ = d.srv.Shutdown(ctx)
	if d.metrics != nil {
		_ = d.metrics.Shutdown(ctx)
	}
	d.hub.Close()
	d.launcher.Shutdown()
	if c, ok := d.hist.(io.Closer); ok {
		_ = c.Close()
	}
	d.log.Info("daemon stopped")
}
