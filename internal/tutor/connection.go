package tutor

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Audio envelopes carry whole
	// base64 clips.
	maxMessageSize = 8 * 1024 * 1024

	// Outbound buffer size.
	sendBufferSize = 256
)

// connection wraps one websocket handle. It is never reused: a reconnect
// creates a new connection with a new generation.
type connection struct {
	gen  uint64
	conn *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	logger *zap.Logger
}

// connectionHandler receives events from the pumps. Calls arrive on the
// pump goroutines.
type connectionHandler struct {
	onMessage func(data []byte)
	onError   func(err error)
	onClose   func()
}

func newConnection(gen uint64, conn *websocket.Conn, logger *zap.Logger) *connection {
	return &connection{
		gen:    gen,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.Uint64("connection", gen)),
	}
}

func (c *connection) start(h connectionHandler) {
	go c.writePump()
	go c.readPump(h)
}

// enqueue hands a payload to the write pump. It reports false when the
// connection is closed or the buffer is full.
func (c *connection) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("Send buffer full, dropping message")
		return false
	}
}

// close shuts the connection down. Safe to call more than once.
func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readPump delivers inbound frames until the connection fails or is closed.
func (c *connection) readPump(h connectionHandler) {
	defer func() {
		c.close()
		h.onClose()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("WebSocket error", zap.Error(err))
				h.onError(err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unexpected message type", zap.Int("type", messageType))
			continue
		}
		h.onMessage(message)
	}
}

// writePump owns every write on the socket.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
