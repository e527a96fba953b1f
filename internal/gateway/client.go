package gateway

import (
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

const maxMessageSize = 64 * 1024

// ClientAdapter is one websocket connection. The feed is push-only: the
// server streams rankings and the client only sends control frames.
type ClientAdapter struct {
	conn   net.Conn
	hub    *Hub
	send   chan []byte
	logger *zap.Logger

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *Hub, logger *zap.Logger) *ClientAdapter {
	return &ClientAdapter{
		conn:       conn,
		hub:        h,
		send:       make(chan []byte, 256),
		logger:     logger,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *ClientAdapter) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.conn.RemoteAddr().String() }
func (c *ClientAdapter) Close()     { close(c.send) } // Only close channel, let writePump close conn

func (c *ClientAdapter) SendBytes(b []byte) {
	select {
	case c.send <- b:
	default:
		// Drop frame if buffer full (Backpressure)
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		default:
			// Inbound text is ignored; the feed has no commands.
		}
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
