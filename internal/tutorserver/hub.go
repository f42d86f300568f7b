// Package tutorserver is a development tutoring backend that speaks the
// realtime tutor protocol over websockets.
package tutorserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain"
	"github.com/NavaneethWKT/Tuition-master-sub000/domain/repositories"
	"github.com/NavaneethWKT/Tuition-master-sub000/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Pending user turns per client before new ones are rejected.
	maxPendingTurns = 8

	// Time allowed for one turn, reply and speech included.
	turnTimeout = 90 * time.Second

	greeting = "Hi! I'm your AI tutor. Ask me to explain a topic or to quiz you."
)

var upgrader = websocket.Upgrader{
	// development backend: any origin may connect
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active tutor clients.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	mu         sync.RWMutex

	service *usecase.TutorService
	metrics *Metrics
	logger  *zap.Logger
}

// NewHub creates a new tutor hub
func NewHub(service *usecase.TutorService, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		service:    service,
		metrics:    NewMetrics(),
		logger:     logger,
	}
}

// Run processes registrations until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.quit)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.clientID]; ok {
				h.logger.Info("Replacing existing client", zap.String("clientID", client.clientID))
				old.close()
			}
			h.clients[client.clientID] = client
			h.metrics.clients.Set(float64(len(h.clients)))
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("clientID", client.clientID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.clientID]; ok && current == client {
				delete(h.clients, client.clientID)
			}
			h.metrics.clients.Set(float64(len(h.clients)))
			h.mu.Unlock()
			client.close()
			h.logger.Info("Client unregistered", zap.String("clientID", client.clientID))

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.metrics.clients.Set(0)
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseIdle closes clients that have not sent a frame for longer than
// maxIdle and returns how many were closed. Pongs do not count as activity.
func (h *Hub) CloseIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle).UnixNano()

	h.mu.RLock()
	var idle []*Client
	for _, client := range h.clients {
		if client.lastActive.Load() < cutoff {
			idle = append(idle, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range idle {
		client.logger.Info("Closing idle client")
		client.close()
	}
	return len(idle)
}

// Client is a middleman between one websocket connection and the tutor service.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	turns    chan turn
	done     chan struct{}
	once     sync.Once
	clientID string
	chat     repositories.ChatSession
	logger   *zap.Logger

	// unix nanos of the last frame received
	lastActive atomic.Int64

	// guards the turn sequence and the in-flight speech cancel
	turnMu       sync.Mutex
	latestTurn   uint64
	cancelSpeech context.CancelFunc
}

// turn is one accepted user message, numbered in arrival order.
type turn struct {
	seq uint64
	msg domain.OutboundMessage
}

// ServeClient upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeClient(c echo.Context, clientID string) error {
	chat, err := h.service.StartConversation(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to start conversation", zap.String("clientID", clientID), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "tutor_unavailable",
			Message: "Failed to start a tutoring conversation",
		})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		turns:    make(chan turn, maxPendingTurns),
		done:     make(chan struct{}),
		clientID: clientID,
		chat:     chat,
		logger:   h.logger.With(zap.String("clientID", clientID)),
	}
	client.touch()

	select {
	case h.register <- client:
	case <-h.quit:
		conn.Close()
		return nil
	}

	client.enqueue(domain.NewSystemEnvelope(greeting))

	go client.writePump()
	go client.turnWorker()
	go client.readPump()
	return nil
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// enqueue hands an envelope to the write pump, dropping it when the client
// is gone or its buffer is full.
func (c *Client) enqueue(env domain.InboundEnvelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("Failed to encode envelope", zap.Error(err))
		return false
	}

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
		c.logger.Warn("Send buffer full, dropping envelope", zap.String("type", string(env.Type)))
		return false
	}
}

// readPump pumps messages from the websocket connection to the turn worker.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
			c.close()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket error", zap.Error(err))
			}
			return
		}
		c.touch()

		if messageType != websocket.TextMessage {
			c.enqueue(domain.NewErrorEnvelope("Only text messages are supported"))
			continue
		}

		msg, err := domain.DecodeOutbound(data)
		if err != nil {
			c.logger.Debug("Rejected client message", zap.Error(err))
			c.enqueue(domain.NewErrorEnvelope("Invalid message: " + err.Error()))
			continue
		}

		if !c.acceptTurn(msg) {
			c.enqueue(domain.NewErrorEnvelope("Tutor is busy, please wait for the current answer"))
		}
	}
}

// acceptTurn queues msg for the turn worker. An accepted message supersedes
// every earlier turn, so speech still being produced for them is cancelled.
func (c *Client) acceptTurn(msg domain.OutboundMessage) bool {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	seq := c.latestTurn + 1
	select {
	case c.turns <- turn{seq: seq, msg: msg}:
	default:
		return false
	}
	c.latestTurn = seq

	if c.cancelSpeech != nil {
		c.logger.Debug("Interrupting speech of previous turn",
			zap.Bool("audioInterrupted", msg.AudioInterrupted))
		c.cancelSpeech()
		c.cancelSpeech = nil
	}
	return true
}

// speechContext returns a context for voicing turn seq, or false when a
// newer turn has already arrived.
func (c *Client) speechContext(ctx context.Context, seq uint64) (context.Context, bool) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	if seq != c.latestTurn {
		return nil, false
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancelSpeech = cancel
	return ctx, true
}

// enqueueSpeech sends a clip for turn seq unless a newer turn has arrived.
func (c *Client) enqueueSpeech(seq uint64, data []byte) bool {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	if seq != c.latestTurn {
		return false
	}
	return c.enqueue(domain.NewAudioEnvelope(base64.StdEncoding.EncodeToString(data)))
}

func (c *Client) endSpeech(seq uint64) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	if seq == c.latestTurn && c.cancelSpeech != nil {
		c.cancelSpeech()
		c.cancelSpeech = nil
	}
}

// writePump pumps messages from the client to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
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

// turnWorker answers user turns one at a time, in arrival order.
func (c *Client) turnWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()

	for {
		select {
		case t := <-c.turns:
			c.handleTurn(ctx, t)
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleTurn(ctx context.Context, t turn) {
	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	reply, err := c.hub.service.Reply(ctx, c.chat, t.msg.Content)
	if err != nil {
		if ctx.Err() == nil {
			c.hub.metrics.failures.WithLabelValues("reply").Inc()
			c.logger.Error("Failed to produce tutor reply", zap.Error(err))
			c.enqueue(domain.NewErrorEnvelope("The tutor could not answer right now"))
		}
		return
	}

	c.hub.metrics.turns.WithLabelValues(reply.Mode).Inc()
	c.enqueue(domain.NewResponseEnvelope(reply.Content, reply.Mode))

	if !c.hub.service.SpeechEnabled() {
		return
	}

	speechCtx, ok := c.speechContext(ctx, t.seq)
	if !ok {
		c.logger.Debug("Skipping speech for superseded turn", zap.Uint64("turn", t.seq))
		return
	}
	defer c.endSpeech(t.seq)

	for _, sentence := range splitSentences(reply.Content) {
		data, err := c.hub.service.Synthesize(speechCtx, sentence)
		if speechCtx.Err() != nil {
			c.logger.Debug("Speech interrupted", zap.Uint64("turn", t.seq))
			return
		}
		if err != nil {
			c.hub.metrics.failures.WithLabelValues("speech").Inc()
			c.logger.Warn("Speech synthesis failed", zap.Error(err))
			c.enqueue(domain.NewAudioErrorEnvelope("speech synthesis failed"))
			return
		}
		if c.enqueueSpeech(t.seq, data) {
			c.hub.metrics.audioClips.Inc()
		}
	}
}

// splitSentences cuts a reply into sentences so each is voiced as its own clip.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '?' || r == '!' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
