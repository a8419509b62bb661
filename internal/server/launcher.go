package server

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultStopGrace is how long BeginStop waits for a graceful exit before
// escalating to a kill.
const DefaultStopGrace = 10 * time.Second

// Launcher owns the real operating-system processes behind the registry's
// servers. It only begins transitions and probes liveness; completion of a
// start or stop is observed later by the poller, never awaited here.
type Launcher struct {
	procs []*proc
	log   *slog.Logger
}

// proc tracks the running child for one server id.
type proc struct {
	mu       sync.Mutex
	spec     Spec
	handle   *os.Process
	outW     io.WriteCloser
	errW     io.WriteCloser
	waitDone chan struct{}
}

// NewLauncher builds a launcher for the fixed spec list. Ids follow slice
// order and match the registry's.
func NewLauncher(specs []Spec, log *slog.Logger) *Launcher {
	procs := make([]*proc, len(specs))
	for i, s := range specs {
		procs[i] = &proc{spec: s}
	}
	return &Launcher{procs: procs, log: log}
}

func (l *Launcher) proc(id int) (*proc, error) {
	if id < 0 || id >= len(l.procs) {
		return nil, fmt.Errorf("unknown server id %d", id)
	}
	return l.procs[id], nil
}

// BeginStart spawns the server process and returns without waiting for it to
// become ready. Starting an already live server is a no-op.
func (l *Launcher) BeginStart(id int) error {
	p, err := l.proc(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aliveLocked() {
		return nil
	}
	cmd := buildShellCommand(p.spec.Command)
	if p.spec.WorkDir != "" {
		cmd.Dir = p.spec.WorkDir
	}
	setProcGroup(cmd)
	outW, errW, _ := p.spec.Log.Writers(p.spec.Name)
	if p.spec.Log.Dir != "" {
		_ = os.MkdirAll(p.spec.Log.Dir, 0o750)
	}
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if err := cmd.Start(); err != nil {
		closeWriters(outW, errW)
		return fmt.Errorf("start %s: %w", p.spec.Name, err)
	}
	p.handle = cmd.Process
	p.outW = outW
	p.errW = errW
	done := make(chan struct{})
	p.waitDone = done
	l.log.Info("server process started", "name", p.spec.Name, "pid", cmd.Process.Pid)
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		closeWriters(p.outW, p.errW)
		p.outW, p.errW = nil, nil
		p.handle = nil
		p.mu.Unlock()
		close(done)
		if err != nil {
			l.log.Warn("server process exited", "name", p.spec.Name, "error", err)
		} else {
			l.log.Info("server process exited", "name", p.spec.Name)
		}
	}()
	return nil
}

// BeginStop signals the process group to terminate and returns immediately.
// A kill is escalated in the background if the grace period elapses.
// Stopping a dead server is a no-op.
func (l *Launcher) BeginStop(id int) error {
	p, err := l.proc(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	handle := p.handle
	done := p.waitDone
	grace := p.spec.StopGrace
	name := p.spec.Name
	p.mu.Unlock()
	if handle == nil {
		return nil
	}
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	pid := handle.Pid
	if err := terminateGroup(pid); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	go func() {
		select {
		case <-done:
		case <-time.After(grace):
			l.log.Warn("server did not exit in time, killing", "name", name, "pid", pid)
			_ = killGroup(pid)
		}
	}()
	return nil
}

// QueryStatus probes the real process state: running when the child is
// alive, stopped otherwise. Transitional states are the registry's business.
func (l *Launcher) QueryStatus(id int) Status {
	p, err := l.proc(id)
	if err != nil {
		return StatusStopped
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aliveLocked() {
		return StatusRunning
	}
	return StatusStopped
}

// Shutdown stops every live server process, used at daemon exit.
func (l *Launcher) Shutdown() {
	for id := range l.procs {
		_ = l.BeginStop(id)
	}
}

func (p *proc) aliveLocked() bool {
	return p.handle != nil && processAlive(p.handle.Pid)
}

func closeWriters(outW, errW io.WriteCloser) {
	if outW != nil {
		_ = outW.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}
