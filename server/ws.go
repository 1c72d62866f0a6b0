package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sessionworks/broker/container"
	"github.com/sessionworks/broker/core/protocol"
)

// errLinkDown reports delivery on a WebSocket whose pumps have stopped.
var errLinkDown = errors.New("websocket link down")

// wsClient adapts a client WebSocket to the coordinator's ClientLink. Frames
// cross the client edge as JSON text messages. A single write pump owns the
// connection's write side; Deliver never touches the socket directly.
type wsClient struct {
	conn         *websocket.Conn
	send         chan protocol.Frame
	closed       chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration
}

func newWSClient(conn *websocket.Conn, cfg Config) *wsClient {
	c := &wsClient{
		conn:         conn,
		send:         make(chan protocol.Frame, defaultSendBuffer),
		closed:       make(chan struct{}),
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
	}
	go c.writePump()
	return c
}

// Deliver hands a frame to the write pump. A full buffer for longer than the
// write timeout means the client has stopped reading; the link is reported
// dead so the coordinator falls back to queueing.
func (c *wsClient) Deliver(frame protocol.Frame) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return errLinkDown
	case <-time.After(c.writeTimeout):
		return errLinkDown
	}
}

func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case frame := <-c.send:
			data, err := protocol.EncodeJSON(frame)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// wsContainerHandle adapts a dialed-in container WebSocket to a
// container.Handle. Frames cross the container edge as CBOR binary messages.
type wsContainerHandle struct {
	conn         *websocket.Conn
	in           chan []byte
	out          chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration
}

func newWSContainerHandle(conn *websocket.Conn, cfg Config) *wsContainerHandle {
	h := &wsContainerHandle{
		conn:         conn,
		in:           make(chan []byte, defaultSendBuffer),
		out:          make(chan []byte, defaultSendBuffer),
		closed:       make(chan struct{}),
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
	}
	go h.writePump()
	return h
}

func (h *wsContainerHandle) Send(ctx context.Context, data []byte) error {
	select {
	case h.out <- data:
		return nil
	case <-h.closed:
		return container.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *wsContainerHandle) Receive() <-chan []byte { return h.in }

func (h *wsContainerHandle) IsAlive() bool {
	select {
	case <-h.closed:
		return false
	default:
		return true
	}
}

func (h *wsContainerHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.conn.Close()
	})
	return nil
}

func (h *wsContainerHandle) writePump() {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	defer h.Close()

	for {
		select {
		case data := <-h.out:
			h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := h.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.closed:
			return
		}
	}
}

// readPump feeds inbound container frames to the coordinator. It owns the
// read side and closes the in channel when the socket drops, which is how the
// coordinator learns the container is gone.
func (h *wsContainerHandle) readPump(readLimit int64, pongWait time.Duration) {
	defer close(h.in)
	defer h.Close()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(string) error {
		return h.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := h.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		select {
		case h.in <- data:
		case <-h.closed:
			return
		}
	}
}
