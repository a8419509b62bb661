package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mined-project/mined/internal/history"
	"github.com/mined-project/mined/internal/metrics"
	"github.com/mined-project/mined/internal/registry"
	"github.com/mined-project/mined/internal/server"
)

// Launcher is the external collaborator that owns the real server
// processes. Both calls begin a transition and return promptly; completion
// is observed by the poller.
type Launcher interface {
	BeginStart(id int) error
	BeginStop(id int) error
}

// Processor turns decoded commands into registry operations and responses.
// It never panics on bad input: an out-of-range id becomes an Error
// response, not a crash. Mutating commands are serialized so the
// read-decide-write sequence of one command cannot interleave with another.
type Processor struct {
	mu   sync.Mutex
	reg  *registry.Registry
	lch  Launcher
	hist history.Sink
	log  *slog.Logger
}

func NewProcessor(reg *registry.Registry, lch Launcher, log *slog.Logger) *Processor {
	return &Processor{reg: reg, lch: lch, log: log}
}

// SetHistorySink configures a best-effort destination for transitions
// caused by commands. Passing nil disables recording.
func (p *Processor) SetHistorySink(s history.Sink) {
	p.mu.Lock()
	p.hist = s
	p.mu.Unlock()
}

// Run executes one command and returns the reply for the issuing observer.
func (p *Processor) Run(c Command) CommandResponse {
	metrics.IncCommand(c.Type.String())
	switch c.Type {
	case CmdGetServers:
		return UpdateServers(p.reg.List())
	case CmdStartServer:
		return p.start(c.ID)
	case CmdStopServer:
		return p.stop(c.ID)
	}
	p.log.Error("unhandled command type", "type", int(c.Type))
	return p.domainError(ErrServerNotFound)
}

func (p *Processor) start(id int) CommandResponse {
	p.mu.Lock()
	d, err := p.reg.Get(id)
	if err != nil {
		p.mu.Unlock()
		return p.domainError(ErrServerNotFound)
	}
	// Starting a server that is already up (or on its way up) is a no-op
	// that still answers with the current snapshot.
	if d.Status == server.StatusRunning || d.Status == server.StatusStarting {
		p.mu.Unlock()
		return UpdateServer(id, d)
	}
	if err := p.lch.BeginStart(id); err != nil {
		p.mu.Unlock()
		p.log.Error("failed to begin start", "id", id, "name", d.Spec.Name, "error", err)
		return p.domainError(ErrLaunchFailed)
	}
	prev, snap, err := p.reg.SetStatus(id, server.StatusStarting)
	sink := p.hist
	p.mu.Unlock()
	if err != nil {
		return p.domainError(ErrServerNotFound)
	}
	// Recording happens after the mutex is released so a slow sink never
	// stalls the next command.
	p.recordTransition(sink, prev, snap)
	return UpdateServer(id, snap)
}

func (p *Processor) stop(id int) CommandResponse {
	p.mu.Lock()
	d, err := p.reg.Get(id)
	if err != nil {
		p.mu.Unlock()
		return p.domainError(ErrServerNotFound)
	}
	if d.Status == server.StatusStopped || d.Status == server.StatusStopping {
		p.mu.Unlock()
		return UpdateServer(id, d)
	}
	if err := p.lch.BeginStop(id); err != nil {
		p.mu.Unlock()
		p.log.Error("failed to begin stop", "id", id, "name", d.Spec.Name, "error", err)
		return p.domainError(ErrStopFailed)
	}
	prev, snap, err := p.reg.SetStatus(id, server.StatusStopping)
	sink := p.hist
	p.mu.Unlock()
	if err != nil {
		return p.domainError(ErrServerNotFound)
	}
	p.recordTransition(sink, prev, snap)
	return UpdateServer(id, snap)
}

func (p *Processor) domainError(kind ErrorKind) CommandResponse {
	metrics.IncCommandError(string(kind))
	return Error(kind)
}

func (p *Processor) recordTransition(sink history.Sink, prev server.Status, snap server.Data) {
	metrics.SetServerState(snap.Spec.Name, snap.Status.String())
	if sink == nil || prev == snap.Status {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Send(ctx, history.Event{
		ServerID:   snap.ID,
		Name:       snap.Spec.Name,
		From:       prev,
		To:         snap.Status,
		OccurredAt: snap.UpdatedAt,
	}); err != nil {
		p.log.Warn("history sink rejected event", "id", snap.ID, "error", err)
	}
}
