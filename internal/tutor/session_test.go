package tutor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain"
	"github.com/NavaneethWKT/Tuition-master-sub000/domain/entities"
)

func TestNewSession_Defaults(t *testing.T) {
	s, err := NewSession(Options{Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer s.Close()

	if s.ClientID() == "" {
		t.Error("Expected a generated client ID")
	}
	if s.URL() != DefaultBaseURL+s.ClientID() {
		t.Errorf("Expected URL %s, got %s", DefaultBaseURL+s.ClientID(), s.URL())
	}
	if s.reconnectDelay != DefaultReconnectDelay {
		t.Errorf("Expected default reconnect delay, got %v", s.reconnectDelay)
	}
	if s.Status() != StatusDisconnected {
		t.Errorf("Expected disconnected, got %s", s.Status())
	}
}

func TestNewSession_InvalidBaseURL(t *testing.T) {
	tests := []string{"http://localhost:8000/ws/", "://bad"}
	for _, baseURL := range tests {
		if _, err := NewSession(Options{BaseURL: baseURL}); err == nil {
			t.Errorf("Expected error for base URL %q", baseURL)
		}
	}
}

func TestNewSession_ClientIDStable(t *testing.T) {
	s, err := NewSession(Options{ClientID: "student-42", BaseURL: "ws://example.test/ws/"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.URL() != "ws://example.test/ws/student-42" {
		t.Errorf("Unexpected URL %s", s.URL())
	}
}

func TestSession_Connect(t *testing.T) {
	ts := newTestServer(t)

	var statuses []Status
	s, err := NewSession(Options{
		BaseURL:        ts.baseURL(),
		ReconnectDelay: testReconnectDelay,
		Logger:         zaptest.NewLogger(t),
		OnStatus:       func(st Status) { statuses = append(statuses, st) },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ts.nextConn(t)
	waitConnected(t, s)

	ts.mu.Lock()
	path := ts.paths[0]
	ts.mu.Unlock()
	if path != "/ws/"+s.ClientID() {
		t.Errorf("Expected path /ws/%s, got %s", s.ClientID(), path)
	}

	messages := s.Messages()
	if len(messages) != 1 || messages[0].Role != entities.RoleSystem {
		t.Fatalf("Expected a single system message, got %+v", messages)
	}

	var seen []Status
	s.loop.Call(func() { seen = append(seen, statuses...) })
	if len(seen) != 2 || seen[0] != StatusConnecting || seen[1] != StatusConnected {
		t.Errorf("Expected connecting -> connected, got %v", seen)
	}
}

func TestSession_SendHeaders(t *testing.T) {
	ts := newTestServer(t)
	header := http.Header{}
	header.Set("Authorization", "Bearer token-123")

	s, err := NewSession(Options{
		BaseURL: ts.baseURL(),
		Header:  header,
		Logger:  zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	s.Connect()
	ts.nextConn(t)

	ts.mu.Lock()
	got := ts.headers[0].Get("Authorization")
	ts.mu.Unlock()
	if got != "Bearer token-123" {
		t.Errorf("Expected Authorization header, got %q", got)
	}
}

func TestSession_SendWhileDisconnectedIsNoop(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, nil)

	sent, err := s.Send("hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent {
		t.Error("Send should report false while disconnected")
	}
	if n := len(s.Messages()); n != 0 {
		t.Errorf("Expected no messages, got %d", n)
	}
	if s.Typing() {
		t.Error("Typing indicator should not be set")
	}
	if ts.acceptedCount() != 0 {
		t.Error("Send must not open a connection")
	}
}

func TestSession_SendAndResponse(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, nil)
	s.Connect()
	sc := ts.nextConn(t)
	waitConnected(t, s)

	sent, err := s.Send("What is photosynthesis?")
	if err != nil || !sent {
		t.Fatalf("Send() = %v, %v", sent, err)
	}

	msg := sc.nextMessage(t)
	if msg.Type != domain.EnvelopeMessage || msg.Content != "What is photosynthesis?" || msg.AudioInterrupted {
		t.Errorf("Unexpected outbound envelope: %+v", msg)
	}
	if !s.Typing() {
		t.Error("Typing indicator should be set after send")
	}
	if users := s.UserMessages(); len(users) != 1 || users[0].Content != "What is photosynthesis?" {
		t.Errorf("Expected user message in transcript, got %+v", users)
	}

	sc.sendJSON(t, domain.NewResponseEnvelope("X", "explain"))
	waitFor(t, "AI reply", func() bool {
		m, ok := lastMessage(s)
		return ok && m.Role == entities.RoleAI
	})

	m, _ := lastMessage(s)
	if m.Content != "X" || m.Mode != "explain" {
		t.Errorf("Expected AI message X/explain, got %+v", m)
	}
	if countContaining(s.Messages(), entities.RoleAI, "") != 1 {
		t.Error("Expected exactly one AI message")
	}
	if s.Typing() {
		t.Error("Typing indicator should be cleared by response")
	}
}

func TestSession_SendBlankIsIgnored(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, nil)
	s.Connect()
	sc := ts.nextConn(t)
	waitConnected(t, s)

	sent, _ := s.Send("   ")
	if sent {
		t.Error("Blank message should not be sent")
	}
	sc.expectNoMessage(t)
}

func TestSession_InboundDispatch(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantRole   entities.Role
		wantText   string
		wantTyping bool
	}{
		{"system", `{"type":"system","message":"Session resumed"}`, entities.RoleSystem, "Session resumed", true},
		{"error", `{"type":"error","message":"quota exceeded"}`, entities.RoleSystem, "Error: quota exceeded", false},
		{"audio error", `{"type":"audio_error","message":"tts offline"}`, entities.RoleSystem, "Audio error: tts offline", true},
		{"bad audio", `{"type":"audio","audio":"%%%"}`, entities.RoleSystem, "Audio playback failed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			s := newTestSession(t, ts, nil)
			s.Connect()
			sc := ts.nextConn(t)
			waitConnected(t, s)

			s.Send("question")
			sc.nextMessage(t)
			before := len(s.Messages())

			sc.sendRaw(t, tt.raw)
			waitFor(t, "dispatched message", func() bool { return len(s.Messages()) == before+1 })

			m, _ := lastMessage(s)
			if m.Role != tt.wantRole || countContaining([]entities.Message{m}, tt.wantRole, tt.wantText) != 1 {
				t.Errorf("Expected %s message containing %q, got %+v", tt.wantRole, tt.wantText, m)
			}
			if s.Typing() != tt.wantTyping {
				t.Errorf("Expected typing=%v, got %v", tt.wantTyping, s.Typing())
			}
		})
	}
}

func TestSession_UnknownEnvelopeIgnored(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, nil)
	s.Connect()
	sc := ts.nextConn(t)
	waitConnected(t, s)

	sc.sendRaw(t, `{"type":"ping"}`)
	sc.sendRaw(t, `not even json`)
	sc.sendJSON(t, domain.NewSystemEnvelope("marker"))

	waitFor(t, "marker message", func() bool {
		m, ok := lastMessage(s)
		return ok && m.Content == "marker"
	})

	if n := len(s.Messages()); n != 2 {
		t.Errorf("Expected connected + marker messages only, got %d: %+v", n, s.Messages())
	}
	if s.Status() != StatusConnected {
		t.Errorf("Expected to stay connected, got %s", s.Status())
	}
}

func TestSession_AudioPlaysInOrder(t *testing.T) {
	ts := newTestServer(t)
	player := newRecordingPlayer()
	s := newTestSession(t, ts, player)
	s.Connect()
	sc := ts.nextConn(t)
	waitConnected(t, s)

	payloads := [][]byte{{1, 2, 3}, {4, 5}, {6, 7, 8, 9}}
	for _, p := range payloads {
		sc.sendJSON(t, domain.NewAudioEnvelope(base64.StdEncoding.EncodeToString(p)))
	}

	for i, want := range payloads {
		player.expectStarted(t, int64(i+1))
		got := <-player.payloads
		if !bytes.Equal(got, want) {
			t.Errorf("Clip %d: expected %v, got %v", i+1, want, got)
		}
		if status := s.AudioStatus(); status != "playing" {
			t.Errorf("Expected playing status, got %q", status)
		}
		player.finish(int64(i+1), nil)
	}

	waitFor(t, "idle audio", func() bool { return s.AudioStatus() == "" })
	if atomic.LoadInt32(&player.overlap) != 0 {
		t.Error("Clips overlapped")
	}
}

func TestSession_SendInterruptsAudio(t *testing.T) {
	ts := newTestServer(t)
	player := newRecordingPlayer()
	s := newTestSession(t, ts, player)
	s.Connect()
	sc := ts.nextConn(t)
	waitConnected(t, s)

	for i := 0; i < 3; i++ {
		sc.sendJSON(t, domain.NewAudioEnvelope("SGVsbG8="))
	}
	player.expectStarted(t, 1)
	<-player.payloads
	waitFor(t, "queued clips", func() bool {
		var n int
		s.loop.Call(func() { n = s.queue.Len() })
		return n == 2
	})

	sent, _ := s.Send("next question")
	if !sent {
		t.Fatal("Send failed")
	}

	select {
	case id := <-player.cancelled:
		if id != 1 {
			t.Errorf("Expected clip 1 to be stopped, got %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Playing clip was not stopped")
	}

	msg := sc.nextMessage(t)
	if !msg.AudioInterrupted {
		t.Error("Expected audio_interrupted=true")
	}

	select {
	case id := <-player.started:
		t.Errorf("Stale clip %d started after interruption", id)
	case <-time.After(50 * time.Millisecond):
	}

	s.Send("and another")
	if msg := sc.nextMessage(t); msg.AudioInterrupted {
		t.Error("Expected audio_interrupted=false with nothing playing")
	}
}

func TestSession_CancelAudio(t *testing.T) {
	ts := newTestServer(t)
	player := newRecordingPlayer()
	s := newTestSession(t, ts, player)

	if s.CancelAudio() {
		t.Error("CancelAudio on idle session should report false")
	}

	s.Connect()
	sc := ts.nextConn(t)
	waitConnected(t, s)

	sc.sendJSON(t, domain.NewAudioEnvelope("SGVsbG8="))
	player.expectStarted(t, 1)

	if !s.CancelAudio() {
		t.Error("CancelAudio should report true while playing")
	}
	if s.CancelAudio() {
		t.Error("Second CancelAudio should report false")
	}
}

func TestSession_ReconnectAfterClose(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, nil)
	s.Connect()
	sc := ts.nextConn(t)
	waitConnected(t, s)

	sc.closeNormal()

	waitFor(t, "disconnect notice", func() bool {
		return countContaining(s.Messages(), entities.RoleSystem, "Disconnected") == 1
	})

	ts.nextConn(t)
	waitConnected(t, s)

	messages := s.Messages()
	if got := countContaining(messages, entities.RoleSystem, "Connected to AI tutor"); got != 2 {
		t.Errorf("Expected two connected notices, got %d", got)
	}
	if got := countContaining(messages, entities.RoleSystem, "Connection error"); got != 0 {
		t.Errorf("Clean close should not report an error, got %d", got)
	}

	// exactly one reconnect attempt
	time.Sleep(3 * testReconnectDelay)
	if n := ts.acceptedCount(); n != 2 {
		t.Errorf("Expected 2 connections, got %d", n)
	}
}

func TestSession_ErrorThenReconnectAfterTransportDrop(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, nil)
	s.Connect()
	sc := ts.nextConn(t)
	waitConnected(t, s)

	sc.dropTransport()

	waitFor(t, "disconnect notice", func() bool {
		return countContaining(s.Messages(), entities.RoleSystem, "Disconnected") == 1
	})

	messages := s.Messages()
	if got := countContaining(messages, entities.RoleSystem, "Connection error"); got != 1 {
		t.Fatalf("Expected one connection error notice, got %d", got)
	}
	errorAt, disconnectAt := -1, -1
	for i, m := range messages {
		switch {
		case strings.Contains(m.Content, "Connection error"):
			errorAt = i
		case strings.Contains(m.Content, "Disconnected"):
			disconnectAt = i
		}
	}
	if errorAt > disconnectAt {
		t.Errorf("Expected error notice before disconnect notice, got %d and %d", errorAt, disconnectAt)
	}

	ts.nextConn(t)
	waitConnected(t, s)

	// exactly one reconnect attempt
	time.Sleep(3 * testReconnectDelay)
	if n := ts.acceptedCount(); n != 2 {
		t.Errorf("Expected 2 connections, got %d", n)
	}
}

func TestSession_ReconnectAfterDialFailure(t *testing.T) {
	ts := newTestServer(t)
	atomic.StoreInt32(&ts.reject, 2)

	s := newTestSession(t, ts, nil)
	s.Connect()

	ts.nextConn(t)
	waitConnected(t, s)

	messages := s.Messages()
	if got := countContaining(messages, entities.RoleSystem, "Disconnected"); got != 2 {
		t.Errorf("Expected two disconnect notices, got %d", got)
	}
	m, _ := lastMessage(s)
	if m.Content != "Connected to AI tutor" {
		t.Errorf("Expected final connected notice, got %q", m.Content)
	}
}

func TestSession_CloseCancelsReconnect(t *testing.T) {
	ts := newTestServer(t)
	s := newTestSession(t, ts, nil)
	s.Connect()
	sc := ts.nextConn(t)
	waitConnected(t, s)

	sc.closeNormal()
	waitFor(t, "disconnected status", func() bool { return s.Status() == StatusDisconnected })

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	time.Sleep(3 * testReconnectDelay)
	if n := ts.acceptedCount(); n != 1 {
		t.Errorf("Reconnected after teardown: %d connections", n)
	}

	if err := s.Close(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Second Close should return ErrSessionClosed, got %v", err)
	}
	if err := s.Connect(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Connect after Close should return ErrSessionClosed, got %v", err)
	}
	if _, err := s.Send("hi"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Send after Close should return ErrSessionClosed, got %v", err)
	}
}

func TestSession_CloseClosesConnectionAndAudio(t *testing.T) {
	ts := newTestServer(t)
	player := newRecordingPlayer()
	s := newTestSession(t, ts, player)
	s.Connect()
	sc := ts.nextConn(t)
	waitConnected(t, s)

	sc.sendJSON(t, domain.NewAudioEnvelope("SGVsbG8="))
	player.expectStarted(t, 1)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-player.cancelled:
	case <-time.After(2 * time.Second):
		t.Error("Audio was not cancelled on teardown")
	}

	select {
	case <-sc.closed:
	case <-time.After(2 * time.Second):
		t.Error("Server connection was not closed on teardown")
	}

	time.Sleep(3 * testReconnectDelay)
	if n := ts.acceptedCount(); n != 1 {
		t.Errorf("Expected no reconnect after teardown, got %d connections", n)
	}
}
