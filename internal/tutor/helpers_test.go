package tutor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain"
	"github.com/NavaneethWKT/Tuition-master-sub000/domain/entities"
	"github.com/NavaneethWKT/Tuition-master-sub000/internal/audio"
)

const testReconnectDelay = 50 * time.Millisecond

// testServer is a minimal tutoring backend that lets tests drive the socket.
type testServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *serverConn
	reject   int32

	mu       sync.Mutex
	accepted int
	paths    []string
	headers  []http.Header
}

type serverConn struct {
	conn     *websocket.Conn
	received chan domain.OutboundMessage
	closed   chan struct{}
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{conns: make(chan *serverConn, 16)}
	ts.srv = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) handle(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&ts.reject) > 0 {
		atomic.AddInt32(&ts.reject, -1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := ts.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ts.mu.Lock()
	ts.accepted++
	ts.paths = append(ts.paths, r.URL.Path)
	ts.headers = append(ts.headers, r.Header.Clone())
	ts.mu.Unlock()

	sc := &serverConn{
		conn:     conn,
		received: make(chan domain.OutboundMessage, 16),
		closed:   make(chan struct{}),
	}
	go func() {
		defer close(sc.closed)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg domain.OutboundMessage
			if json.Unmarshal(data, &msg) == nil {
				sc.received <- msg
			}
		}
	}()
	ts.conns <- sc
}

func (ts *testServer) baseURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/"
}

func (ts *testServer) acceptedCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.accepted
}

func (ts *testServer) nextConn(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-ts.conns:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("No connection accepted")
		return nil
	}
}

func (sc *serverConn) sendJSON(t *testing.T, v interface{}) {
	t.Helper()
	if err := sc.conn.WriteJSON(v); err != nil {
		t.Fatalf("Server write failed: %v", err)
	}
}

func (sc *serverConn) sendRaw(t *testing.T, raw string) {
	t.Helper()
	if err := sc.conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("Server write failed: %v", err)
	}
}

func (sc *serverConn) closeNormal() {
	sc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	sc.conn.Close()
}

// dropTransport closes the TCP connection without a close frame.
func (sc *serverConn) dropTransport() {
	sc.conn.UnderlyingConn().Close()
}

func (sc *serverConn) nextMessage(t *testing.T) domain.OutboundMessage {
	t.Helper()
	select {
	case msg := <-sc.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Server did not receive a message")
		return domain.OutboundMessage{}
	}
}

func (sc *serverConn) expectNoMessage(t *testing.T) {
	t.Helper()
	select {
	case msg := <-sc.received:
		t.Fatalf("Unexpected message received by server: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// recordingPlayer blocks each clip until finished or cancelled.
type recordingPlayer struct {
	started   chan int64
	cancelled chan int64
	payloads  chan []byte

	mu      sync.Mutex
	results map[int64]chan error
	active  int32
	overlap int32
}

func newRecordingPlayer() *recordingPlayer {
	return &recordingPlayer{
		started:   make(chan int64, 16),
		cancelled: make(chan int64, 16),
		payloads:  make(chan []byte, 16),
		results:   make(map[int64]chan error),
	}
}

func (p *recordingPlayer) result(id int64) chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.results[id]
	if !ok {
		ch = make(chan error, 1)
		p.results[id] = ch
	}
	return ch
}

func (p *recordingPlayer) Play(ctx context.Context, clip *audio.Clip) error {
	if atomic.AddInt32(&p.active, 1) > 1 {
		atomic.StoreInt32(&p.overlap, 1)
	}
	defer atomic.AddInt32(&p.active, -1)

	data, err := clip.Bytes()
	if err != nil {
		return err
	}
	p.payloads <- append([]byte(nil), data...)
	p.started <- clip.ID

	select {
	case err := <-p.result(clip.ID):
		return err
	case <-ctx.Done():
		p.cancelled <- clip.ID
		return ctx.Err()
	}
}

func (p *recordingPlayer) finish(id int64, err error) {
	p.result(id) <- err
}

func (p *recordingPlayer) expectStarted(t *testing.T, want int64) {
	t.Helper()
	select {
	case got := <-p.started:
		if got != want {
			t.Fatalf("Expected clip %d to start, got %d", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Clip %d did not start", want)
	}
}

func newTestSession(t *testing.T, ts *testServer, player audio.Player) *Session {
	t.Helper()
	s, err := NewSession(Options{
		BaseURL:        ts.baseURL(),
		ReconnectDelay: testReconnectDelay,
		Player:         player,
		Logger:         zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", desc)
}

func waitConnected(t *testing.T, s *Session) {
	t.Helper()
	waitFor(t, "connected status", func() bool { return s.Status() == StatusConnected })
}

func lastMessage(s *Session) (entities.Message, bool) {
	messages := s.Messages()
	if len(messages) == 0 {
		return entities.Message{}, false
	}
	return messages[len(messages)-1], true
}

func countContaining(messages []entities.Message, role entities.Role, substr string) int {
	n := 0
	for _, m := range messages {
		if m.Role == role && strings.Contains(m.Content, substr) {
			n++
		}
	}
	return n
}
