package proxy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var clientIDCounter uint64

// clientConn is one connected, possibly-authenticated WebSocket client.
type clientConn struct {
	id   string
	conn *websocket.Conn

	mu         sync.RWMutex
	userID     string
	brokerName string
	authed     bool

	outbox  *outbox
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func newClientConn(conn *websocket.Conn, outboxCapacity int) *clientConn {
	id := atomic.AddUint64(&clientIDCounter, 1)
	return &clientConn{
		id:     formatClientID(id),
		conn:   conn,
		outbox: newOutbox(outboxCapacity),
		done:   make(chan struct{}),
	}
}

func formatClientID(n uint64) string {
	const hex = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 16)
	for n > 0 {
		buf = append([]byte{hex[n%16]}, buf...)
		n /= 16
	}
	return "c-" + string(buf)
}

func (c *clientConn) setIdentity(userID, brokerName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.brokerName = brokerName
	c.authed = true
}

func (c *clientConn) identity() (userID, brokerName string, authed bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.brokerName, c.authed
}

func (c *clientConn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// sendDirect writes a control-plane frame (ack/error) immediately, bypassing
// the coalescing outbox used for market-data fan-out, serialized against the
// write pump by writeMu since gorilla's Conn forbids concurrent writers.
func (c *clientConn) sendDirect(payload []byte) error {
	const writeWait = 10 * time.Second
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *clientConn) writePump() {
	const pingPeriod = 30 * time.Second
	const writeWait = 10 * time.Second

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-c.outbox.notify:
			for {
				payload, ok := c.outbox.pop()
				if !ok {
					break
				}
				if err := c.sendDirect(payload); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
