// Package realtime implements the websocket session coordinator:
// per-connection clients, the room/session hub, and the event
// dispatcher that routes inbound messages.
package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds a single frame write to a peer.
	writeWait = 10 * time.Second
	// pongWait is how long an authenticated connection may stay silent.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// sendBufferSize is the per-client outbound event buffer. When it
	// fills, further events to that peer are dropped.
	sendBufferSize = 64
	// maxMessageSize caps a single inbound frame.
	maxMessageSize = 64 * 1024
)

// Peer is one live connection the hub can push serialized events to.
// Enqueue must never block: a peer that cannot accept the event
// reports false and delivery to other peers continues.
type Peer interface {
	Enqueue(data []byte) bool
	Close()
}

// Client wraps one websocket connection with a buffered outbound
// queue. The write pump owns all writes to the connection; the read
// loop lives in Dispatcher.HandleConn.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded websocket connection.
//
// Precondition: conn and logger must be non-nil.
// Postcondition: Returns a Client whose write pump is not yet running;
// the caller must invoke WritePump in its own goroutine.
func NewClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Enqueue implements Peer. It queues data for the write pump without
// blocking.
//
// Postcondition: Returns false if the client is closed or its buffer
// is full; the event is then dropped for this peer only.
func (c *Client) Enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close marks the client closed and stops the write pump. Safe to call
// more than once and from any goroutine.
//
// Postcondition: Enqueue returns false; the underlying connection is
// closed once the write pump drains.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// WritePump drains the send queue onto the websocket and emits pings.
// It exits when Close is called or a write fails, closing the
// underlying connection either way.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed, dropping peer", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			// Flush whatever is already queued before hanging up.
			for {
				select {
				case data := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
					return
				}
			}
		}
	}
}
