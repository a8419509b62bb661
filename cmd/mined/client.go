package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mined-project/mined/internal/command"
	"github.com/mined-project/mined/internal/config"
	"github.com/mined-project/mined/internal/logger"
	"github.com/mined-project/mined/internal/protocol"
	"github.com/mined-project/mined/internal/server"
)

const clientTimeout = 10 * time.Second

// dialDaemon opens the command socket. The address comes from --addr
// when given, otherwise from the config file's listen address.
func dialDaemon() (*websocket.Conn, error) {
	addr := flagAddr
	if addr == "" {
		log := logger.New("error", false)
		cfg, err := config.Load(flagConfig, log)
		if err != nil {
			return nil, fmt.Errorf("no --addr and config unusable: %w", err)
		}
		addr = cfg.Listen
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: "/cmd"}
	dialer := websocket.Dialer{HandshakeTimeout: clientTimeout}
	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return ws, nil
}

// roundTrip sends one command and returns the first response frame.
func roundTrip(ws *websocket.Conn, c command.Command) (command.CommandResponse, error) {
	var resp command.CommandResponse
	b, err := protocol.Marshal(c)
	if err != nil {
		return resp, err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(clientTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return resp, fmt.Errorf("send: %w", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(clientTimeout))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return resp, fmt.Errorf("read: %w", err)
	}
	if err := protocol.Unmarshal(msg, &resp); err != nil {
		return resp, fmt.Errorf("decode: %w", err)
	}
	return resp, nil
}

func printServers(servers []server.Data) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPORT\tUPDATED")
	for _, s := range servers {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			s.ID, s.Spec.Name, s.Status, s.Spec.Port, s.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func printServer(s server.Data) {
	fmt.Printf("server %d (%s): %s\n", s.ID, s.Spec.Name, s.Status)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List all servers and their states",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := dialDaemon()
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()
			resp, err := roundTrip(ws, command.GetServers())
			if err != nil {
				return err
			}
			if resp.Type == command.RespError {
				return fmt.Errorf("daemon error: %s", resp.Err)
			}
			printServers(resp.Servers)
			return nil
		},
	}
}

func parseID(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one server id")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid server id %q", args[0])
	}
	return id, nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a server by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args)
			if err != nil {
				return err
			}
			ws, err := dialDaemon()
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()
			resp, err := roundTrip(ws, command.StartServer(id))
			if err != nil {
				return err
			}
			if resp.Type == command.RespError {
				return fmt.Errorf("daemon error: %s", resp.Err)
			}
			printServer(resp.Server)
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a server by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args)
			if err != nil {
				return err
			}
			ws, err := dialDaemon()
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()
			resp, err := roundTrip(ws, command.StopServer(id))
			if err != nil {
				return err
			}
			if resp.Type == command.RespError {
				return fmt.Errorf("daemon error: %s", resp.Err)
			}
			printServer(resp.Server)
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream state changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := dialDaemon()
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()
			for {
				_, msg, err := ws.ReadMessage()
				if err != nil {
					return fmt.Errorf("read: %w", err)
				}
				var resp command.CommandResponse
				if err := protocol.Unmarshal(msg, &resp); err != nil {
					fmt.Fprintln(os.Stderr, "skipping undecodable frame:", err)
					continue
				}
				switch resp.Type {
				case command.RespUpdateServer:
					printServer(resp.Server)
				case command.RespUpdateServers:
					printServers(resp.Servers)
				case command.RespError:
					fmt.Fprintln(os.Stderr, "daemon error:", resp.Err)
				}
			}
		},
	}
}
