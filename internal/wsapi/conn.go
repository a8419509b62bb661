package wsapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mined-project/mined/internal/command"
	"github.com/mined-project/mined/internal/hub"
	"github.com/mined-project/mined/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outBuffer      = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The site is served from this daemon, but operators also point
	// standalone tooling at /cmd; origin is not part of the protocol.
	CheckOrigin: func(*http.Request) bool { return true },
}

// conn is one observer connection: a read loop decoding commands and a
// write pump multiplexing direct replies with hub broadcasts onto the same
// socket. A dropped observer is never resurrected; the client reconnects
// and starts over.
type conn struct {
	ws         *websocket.Conn
	out        chan []byte
	hub        *hub.Hub
	proc       *command.Processor
	log        *slog.Logger
	writerDone chan struct{}
}

func (rt *Router) handleCmd(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rt.log.Warn("websocket upgrade failed", "remote", c.Request.RemoteAddr, "error", err)
		return
	}
	cn := &conn{
		ws:         ws,
		out:        make(chan []byte, outBuffer),
		hub:        rt.hub,
		proc:       rt.proc,
		log:        rt.log.With("remote", ws.RemoteAddr().String()),
		writerDone: make(chan struct{}),
	}
	cn.serve()
}

// serve runs the connection to completion. Registration with the hub lasts
// exactly as long as the read loop; on any transport error the subscriber
// is removed before the outbound channel is closed.
func (c *conn) serve() {
	handle := c.hub.Register(c.out)
	c.log.Debug("observer connected")
	go c.writePump()
	c.readLoop()
	c.hub.Unregister(handle)
	close(c.out)
	<-c.writerDone
	_ = c.ws.Close()
	c.log.Debug("observer disconnected")
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}
		// Text and control frames are not part of the protocol; drop the
		// frame, keep the connection.
		if mt != websocket.BinaryMessage {
			c.log.Debug("non-binary frame, discarding")
			continue
		}
		var cmd command.Command
		if err := protocol.Unmarshal(data, &cmd); err != nil {
			c.log.Warn("failed to parse command", "error", err)
			continue
		}
		resp := c.proc.Run(cmd)
		b, err := protocol.Marshal(resp)
		if err != nil {
			c.log.Error("failed to serialize response", "error", err)
			continue
		}
		// Direct reply on this connection's own outbound path, after the
		// command's mutation (if any) is committed.
		select {
		case c.out <- b:
		case <-c.writerDone:
			return
		}
	}
}

func (c *conn) writePump() {
	defer close(c.writerDone)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.out:
			if !ok {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.log.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
