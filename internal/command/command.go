// Package command defines the closed command/response vocabulary of the
// control socket and the processor that executes commands against the
// registry.
//
// The wire encoding mirrors externally tagged unions: a variant without a
// payload is a CBOR text string holding the variant name, a variant with a
// payload is a single-entry map from the variant name to its payload.
package command

import (
	"fmt"

	"github.com/mined-project/mined/internal/protocol"
	"github.com/mined-project/mined/internal/server"
)

// Command is a request from an observer: list all servers or begin a
// start/stop transition for one of them. It carries no correlation id; the
// reply is matched only by arrival order on the observer's own connection.
type Command struct {
	Type CommandType
	ID   int // server id for StartServer/StopServer
}

type CommandType int

const (
	CmdGetServers CommandType = iota
	CmdStartServer
	CmdStopServer
)

func (t CommandType) String() string {
	switch t {
	case CmdGetServers:
		return "GetServers"
	case CmdStartServer:
		return "StartServer"
	case CmdStopServer:
		return "StopServer"
	}
	return fmt.Sprintf("CommandType(%d)", int(t))
}

// GetServers requests snapshots of every server.
func GetServers() Command { return Command{Type: CmdGetServers} }

// StartServer requests that server id begins starting.
func StartServer(id int) Command { return Command{Type: CmdStartServer, ID: id} }

// StopServer requests that server id begins stopping.
func StopServer(id int) Command { return Command{Type: CmdStopServer, ID: id} }

// MarshalCBOR implements cbor.Marshaler.
func (c Command) MarshalCBOR() ([]byte, error) {
	switch c.Type {
	case CmdGetServers:
		return protocol.Marshal("GetServers")
	case CmdStartServer:
		return protocol.Marshal(map[string]int{"StartServer": c.ID})
	case CmdStopServer:
		return protocol.Marshal(map[string]int{"StopServer": c.ID})
	}
	return nil, fmt.Errorf("unknown command type %d", int(c.Type))
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (c *Command) UnmarshalCBOR(data []byte) error {
	var name string
	if err := protocol.Unmarshal(data, &name); err == nil {
		if name != "GetServers" {
			return fmt.Errorf("unknown command %q", name)
		}
		*c = Command{Type: CmdGetServers}
		return nil
	}
	var tagged map[string]int
	if err := protocol.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("malformed command: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("malformed command: expected one variant, got %d", len(tagged))
	}
	for name, id := range tagged {
		switch name {
		case "StartServer":
			*c = Command{Type: CmdStartServer, ID: id}
		case "StopServer":
			*c = Command{Type: CmdStopServer, ID: id}
		default:
			return fmt.Errorf("unknown command %q", name)
		}
	}
	return nil
}

// ErrorKind names a domain error carried in an Error response.
type ErrorKind string

const (
	ErrServerNotFound ErrorKind = "ServerNotFound"
	ErrLaunchFailed   ErrorKind = "LaunchFailed"
	ErrStopFailed     ErrorKind = "StopFailed"
)

// CommandResponse is either a direct reply to a Command or a broadcast
// state-change event; the two are distinguishable only by payload shape.
type CommandResponse struct {
	Type    ResponseType
	Servers []server.Data // UpdateServers
	ID      int           // UpdateServer
	Server  server.Data   // UpdateServer
	Err     ErrorKind     // Error
}

type ResponseType int

const (
	RespUpdateServers ResponseType = iota
	RespUpdateServer
	RespError
)

// UpdateServers wraps a full snapshot list.
func UpdateServers(servers []server.Data) CommandResponse {
	return CommandResponse{Type: RespUpdateServers, Servers: servers}
}

// UpdateServer wraps a single-server snapshot, used both for direct replies
// and broadcast events.
func UpdateServer(id int, data server.Data) CommandResponse {
	return CommandResponse{Type: RespUpdateServer, ID: id, Server: data}
}

// Error wraps a domain error kind.
func Error(kind ErrorKind) CommandResponse {
	return CommandResponse{Type: RespError, Err: kind}
}

// updateServerWire is the [id, snapshot] tuple payload of UpdateServer.
type updateServerWire struct {
	_  struct{} `cbor:",toarray"`
	ID int
	S  server.Data
}

// MarshalCBOR implements cbor.Marshaler.
func (r CommandResponse) MarshalCBOR() ([]byte, error) {
	switch r.Type {
	case RespUpdateServers:
		servers := r.Servers
		if servers == nil {
			servers = []server.Data{}
		}
		return protocol.Marshal(map[string][]server.Data{"UpdateServers": servers})
	case RespUpdateServer:
		return protocol.Marshal(map[string]updateServerWire{
			"UpdateServer": {ID: r.ID, S: r.Server},
		})
	case RespError:
		return protocol.Marshal(map[string]string{"Error": string(r.Err)})
	}
	return nil, fmt.Errorf("unknown response type %d", int(r.Type))
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (r *CommandResponse) UnmarshalCBOR(data []byte) error {
	var tagged map[string]protocol.RawMessage
	if err := protocol.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("malformed response: expected one variant, got %d", len(tagged))
	}
	for name, raw := range tagged {
		switch name {
		case "UpdateServers":
			var servers []server.Data
			if err := protocol.Unmarshal(raw, &servers); err != nil {
				return err
			}
			*r = UpdateServers(servers)
		case "UpdateServer":
			var w updateServerWire
			if err := protocol.Unmarshal(raw, &w); err != nil {
				return err
			}
			*r = UpdateServer(w.ID, w.S)
		case "Error":
			var kind string
			if err := protocol.Unmarshal(raw, &kind); err != nil {
				return err
			}
			*r = Error(ErrorKind(kind))
		default:
			return fmt.Errorf("unknown response %q", name)
		}
	}
	return nil
}
