package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/mined-project/mined/internal/logger"
)

// Status is the lifecycle state of a managed game server. The transitional
// states (starting, stopping) are set optimistically when a command begins a
// transition; the poller replaces them once the real state is observed.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusStopping:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Spec describes one game server declared in the config file. The order of
// specs in the config assigns server ids (0..N-1) for the process lifetime.
type Spec struct {
	Name      string        `json:"name" cbor:"name" mapstructure:"name"`
	Command   string        `json:"command" cbor:"command" mapstructure:"command"`
	WorkDir   string        `json:"workdir,omitempty" cbor:"workdir,omitempty" mapstructure:"workdir"`
	Port      int           `json:"port,omitempty" cbor:"port,omitempty" mapstructure:"port"`
	StopGrace time.Duration `json:"stop_grace,omitempty" cbor:"stop_grace,omitempty" mapstructure:"stop_grace"`
	Log       logger.Config `json:"log,omitempty" cbor:"-" mapstructure:"log"`
}

// Validate checks the fields a spec must carry before it can be launched.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("server spec requires name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("server %q requires command", s.Name)
	}
	if strings.Contains(s.WorkDir, "..") {
		return fmt.Errorf("server %q: workdir cannot contain '..'", s.Name)
	}
	return nil
}

// Data is an immutable snapshot of one server: its identity, declared spec
// and last observed status. Copies are taken under the registry lock and
// handed out by value, never as live references.
type Data struct {
	ID        int       `json:"id" cbor:"id"`
	Spec      Spec      `json:"config" cbor:"config"`
	Status    Status    `json:"status" cbor:"status"`
	UpdatedAt time.Time `json:"updated_at" cbor:"updated_at"`
}
