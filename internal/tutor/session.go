// Package tutor implements the realtime tutoring session: one websocket
// connection to the tutoring agent that reconnects after every drop, a
// transcript of the conversation, and ordered playback of spoken replies.
package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain"
	"github.com/NavaneethWKT/Tuition-master-sub000/domain/entities"
	"github.com/NavaneethWKT/Tuition-master-sub000/internal/audio"
	"github.com/NavaneethWKT/Tuition-master-sub000/internal/loop"
)

const (
	// DefaultBaseURL is used when no endpoint is configured.
	DefaultBaseURL = "ws://localhost:8000/ws/"

	// DefaultReconnectDelay is the constant delay between reconnect attempts.
	DefaultReconnectDelay = 3 * time.Second
)

// ErrSessionClosed is returned by operations on a torn down session.
var ErrSessionClosed = errors.New("tutor session closed")

// Status is the connection state of a session
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	BaseURL        string
	ClientID       string
	ReconnectDelay time.Duration
	Header         http.Header
	Dialer         *websocket.Dialer
	Player         audio.Player
	Logger         *zap.Logger

	// Hooks run on the session goroutine and must not call back into the
	// session.
	OnMessage func(entities.Message)
	OnStatus  func(Status)
}

// Session manages one realtime tutoring conversation. All state below the
// loop field is owned by the loop goroutine.
type Session struct {
	clientID       string
	url            string
	header         http.Header
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	logger         *zap.Logger
	onMessage      func(entities.Message)
	onStatus       func(Status)

	loop *loop.Loop

	status     Status
	conn       *connection
	gen        uint64
	dialCancel context.CancelFunc
	reconnect  *loop.Timer
	attempts   int
	disposed   bool
	typing     bool
	transcript *entities.Transcript
	queue      *audio.Queue
	clipSeq    int64
}

// NewClientID generates a random session client identifier.
func NewClientID() string {
	return uuid.NewString()
}

// NewSession creates a disconnected session. Call Connect to open it and
// Close to tear it down.
func NewSession(opts Options) (*Session, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("base URL must use ws or wss scheme, got %q", u.Scheme)
	}

	clientID := opts.ClientID
	if clientID == "" {
		clientID = NewClientID()
	}

	reconnectDelay := opts.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("clientID", clientID))

	player := opts.Player
	if player == nil {
		player = audio.NewPacedPlayer(0, nil)
	}

	s := &Session{
		clientID:       clientID,
		url:            baseURL + clientID,
		header:         opts.Header,
		dialer:         dialer,
		reconnectDelay: reconnectDelay,
		logger:         logger,
		onMessage:      opts.OnMessage,
		onStatus:       opts.OnStatus,
		loop:           loop.New(logger),
		status:         StatusDisconnected,
		transcript:     entities.NewTranscript(),
	}
	s.queue = audio.NewQueue(s.loop, player, audio.Hooks{
		OnStart: func(clip *audio.Clip) {
			s.logger.Debug("Playing audio clip", zap.Int64("clipID", clip.ID))
		},
		OnIdle: func() {
			s.logger.Debug("Audio queue drained")
		},
		OnError: func(clip *audio.Clip, err error) {
			s.appendMessage(entities.RoleSystem, fmt.Sprintf("Audio playback failed: %v", err), "")
		},
	}, logger)

	s.loop.Start()
	return s, nil
}

// ClientID returns the identifier appended to the endpoint.
func (s *Session) ClientID() string {
	return s.clientID
}

// URL returns the full endpoint of the session.
func (s *Session) URL() string {
	return s.url
}

// Connect opens the connection. It returns immediately; the outcome is
// reported through the status and system messages.
func (s *Session) Connect() error {
	var err error
	ok := s.loop.Call(func() {
		if s.disposed {
			err = ErrSessionClosed
			return
		}
		s.connect()
	})
	if !ok {
		return ErrSessionClosed
	}
	return err
}

// Send transmits a user turn. Audio still playing from the previous turn is
// cancelled first and reported to the server via audio_interrupted. When the
// session is not connected nothing happens and sent is false.
func (s *Session) Send(text string) (sent bool, err error) {
	ok := s.loop.Call(func() {
		if s.disposed {
			err = ErrSessionClosed
			return
		}
		sent = s.send(text)
	})
	if !ok {
		return false, ErrSessionClosed
	}
	return sent, err
}

// CancelAudio stops any playing or queued audio and reports whether there
// was any.
func (s *Session) CancelAudio() bool {
	var cancelled bool
	s.loop.Call(func() {
		cancelled = s.queue.CancelAll()
	})
	return cancelled
}

// Close tears the session down: the pending reconnect is cancelled, audio
// is stopped and the connection is closed. No reconnect happens afterwards.
func (s *Session) Close() error {
	var closed bool
	ok := s.loop.Call(func() {
		if s.disposed {
			closed = true
			return
		}
		s.teardown()
	})
	if !ok || closed {
		return ErrSessionClosed
	}

	s.loop.Stop()
	s.logger.Info("Tutor session closed")
	return nil
}

// Status returns the connection status.
func (s *Session) Status() Status {
	status := StatusDisconnected
	s.loop.Call(func() { status = s.status })
	return status
}

// Typing reports whether a reply to the last user turn is pending.
func (s *Session) Typing() bool {
	var typing bool
	s.loop.Call(func() { typing = s.typing })
	return typing
}

// AudioStatus returns the audio queue status string.
func (s *Session) AudioStatus() string {
	status := audio.StatusIdle
	s.loop.Call(func() { status = s.queue.Status() })
	return status
}

// Messages returns the whole transcript.
func (s *Session) Messages() []entities.Message {
	var messages []entities.Message
	s.loop.Call(func() { messages = s.transcript.All() })
	return messages
}

// AIMessages returns AI replies and system notices.
func (s *Session) AIMessages() []entities.Message {
	var messages []entities.Message
	s.loop.Call(func() { messages = s.transcript.AIView() })
	return messages
}

// UserMessages returns the user's turns.
func (s *Session) UserMessages() []entities.Message {
	var messages []entities.Message
	s.loop.Call(func() { messages = s.transcript.UserView() })
	return messages
}

// connect starts a dial unless one is in flight or a connection is open.
func (s *Session) connect() {
	if s.disposed || s.status != StatusDisconnected {
		return
	}

	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.dialCancel = cancel
	s.setStatus(StatusConnecting)

	s.logger.Info("Connecting to tutor", zap.String("url", s.url), zap.Uint64("connection", gen))

	go func() {
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if !s.loop.Post(func() { s.dialed(gen, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (s *Session) dialed(gen uint64, ws *websocket.Conn, err error) {
	if s.disposed || gen != s.gen {
		if ws != nil {
			ws.Close()
		}
		return
	}
	s.dialCancel = nil

	if err != nil {
		s.logger.Warn("Failed to connect to tutor", zap.Error(err))
		s.appendMessage(entities.RoleSystem, fmt.Sprintf("Connection error: %v", err), "")
		s.disconnected()
		return
	}

	conn := newConnection(gen, ws, s.logger)
	s.conn = conn
	s.attempts = 0
	conn.start(connectionHandler{
		onMessage: func(data []byte) {
			s.loop.Post(func() {
				if s.current(gen) {
					s.dispatch(data)
				}
			})
		},
		onError: func(err error) {
			s.loop.Post(func() {
				if s.current(gen) {
					s.appendMessage(entities.RoleSystem, fmt.Sprintf("Connection error: %v", err), "")
				}
			})
		},
		onClose: func() {
			s.loop.Post(func() {
				if s.current(gen) {
					s.disconnected()
				}
			})
		},
	})

	s.setStatus(StatusConnected)
	s.appendMessage(entities.RoleSystem, "Connected to AI tutor", "")
}

// current reports whether events from connection gen should still be handled.
func (s *Session) current(gen uint64) bool {
	return !s.disposed && s.conn != nil && s.conn.gen == gen
}

// disconnected drops the current handle and schedules a single reconnect.
func (s *Session) disconnected() {
	if s.conn != nil {
		s.conn.close()
		s.conn = nil
	}
	s.typing = false
	s.setStatus(StatusDisconnected)
	s.appendMessage(entities.RoleSystem,
		fmt.Sprintf("Disconnected from AI tutor. Reconnecting in %s...", s.reconnectDelay), "")
	s.scheduleReconnect()
}

// scheduleReconnect retries forever at a constant delay, without jitter or cap.
func (s *Session) scheduleReconnect() {
	if s.disposed || s.reconnect != nil {
		return
	}

	s.attempts++
	s.logger.Info("Reconnect scheduled",
		zap.Duration("delay", s.reconnectDelay),
		zap.Int("attempt", s.attempts))

	s.reconnect = s.loop.AfterFunc(s.reconnectDelay, func() {
		s.reconnect = nil
		s.connect()
	})
}

func (s *Session) send(text string) bool {
	if s.status != StatusConnected || s.conn == nil {
		s.logger.Debug("Dropping message while not connected", zap.String("status", string(s.status)))
		return false
	}
	if strings.TrimSpace(text) == "" {
		return false
	}

	interrupted := s.queue.CancelAll()

	payload, err := json.Marshal(domain.NewOutboundMessage(text, interrupted))
	if err != nil {
		s.logger.Error("Failed to encode message", zap.Error(err))
		return false
	}
	if !s.conn.enqueue(payload) {
		return false
	}

	s.appendMessage(entities.RoleUser, text, "")
	s.typing = true

	s.logger.Debug("Message sent",
		zap.Int("length", len(text)),
		zap.Bool("audioInterrupted", interrupted))
	return true
}

func (s *Session) teardown() {
	s.disposed = true

	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}

	s.queue.CancelAll()

	if s.conn != nil {
		s.conn.close()
		s.conn = nil
	}
	s.typing = false
	s.setStatus(StatusDisconnected)
}

func (s *Session) setStatus(status Status) {
	if s.status == status {
		return
	}
	s.logger.Debug("Status changed",
		zap.String("from", string(s.status)),
		zap.String("to", string(status)))
	s.status = status
	if s.onStatus != nil {
		s.onStatus(status)
	}
}

func (s *Session) appendMessage(role entities.Role, content, mode string) {
	message := s.transcript.Append(role, content, mode)
	if s.onMessage != nil {
		s.onMessage(message)
	}
}
