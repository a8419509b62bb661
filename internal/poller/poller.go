// Package poller samples the real state of every managed server on a fixed
// interval and turns observed transitions into broadcast events.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mined-project/mined/internal/command"
	"github.com/mined-project/mined/internal/history"
	"github.com/mined-project/mined/internal/hub"
	"github.com/mined-project/mined/internal/metrics"
	"github.com/mined-project/mined/internal/protocol"
	"github.com/mined-project/mined/internal/registry"
	"github.com/mined-project/mined/internal/server"
)

// DefaultInterval matches the original daemon's five second sweep.
const DefaultInterval = 5 * time.Second

// StatusSource answers what state a server's process is really in right
// now. The launcher implements it.
type StatusSource interface {
	QueryStatus(id int) server.Status
}

// Poller reconciles the registry against reality and pushes one
// UpdateServer event through the hub for every transition it detects. It
// never blocks on subscriber delivery; the hub decouples that.
type Poller struct {
	reg      *registry.Registry
	src      StatusSource
	hub      *hub.Hub
	interval time.Duration
	hist     history.Sink
	log      *slog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(reg *registry.Registry, src StatusSource, h *hub.Hub, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		reg:      reg,
		src:      src,
		hub:      h,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetHistorySink configures a best-effort destination for detected
// transitions. Must be called before Run.
func (p *Poller) SetHistorySink(s history.Sink) { p.hist = s }

// Run loops until ctx is cancelled or Stop is called. It is intended to be
// run as a goroutine and closes its done channel on exit.
func (p *Poller) Run(ctx context.Context) {
	p.started.Store(true)
	defer close(p.done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-t.C:
			p.PollOnce(ctx)
		}
	}
}

// Stop cancels the loop and waits for it to exit. Safe to call more than
// once, and safe when Run was never started.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
}

// PollOnce sweeps every server once: query the real status, record it, and
// broadcast an event when the recorded status actually changed.
func (p *Poller) PollOnce(ctx context.Context) {
	n := p.reg.Len()
	for id := 0; id < n; id++ {
		real := p.src.QueryStatus(id)
		prev, snap, err := p.reg.SetStatus(id, real)
		if err != nil {
			// ids are fixed at startup; this indicates a wiring bug
			p.log.Error("poll hit unknown server id", "id", id, "error", err)
			continue
		}
		if prev == real {
			continue
		}
		metrics.SetServerState(snap.Spec.Name, snap.Status.String())
		p.log.Info("server status changed", "id", id, "name", snap.Spec.Name,
			"from", prev.String(), "to", real.String())
		p.record(ctx, prev, snap)
		p.broadcast(id, snap)
	}
}

func (p *Poller) broadcast(id int, snap server.Data) {
	b, err := protocol.Marshal(command.UpdateServer(id, snap))
	if err != nil {
		p.log.Error("failed to encode update event", "id", id, "error", err)
		return
	}
	p.hub.Broadcast(b)
}

func (p *Poller) record(ctx context.Context, prev server.Status, snap server.Data) {
	if p.hist == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.hist.Send(sctx, history.Event{
		ServerID:   snap.ID,
		Name:       snap.Spec.Name,
		From:       prev,
		To:         snap.Status,
		OccurredAt: snap.UpdatedAt,
	}); err != nil {
		p.log.Warn("history sink rejected event", "id", snap.ID, "error", err)
	}
}
