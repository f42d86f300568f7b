package entities

import (
	"time"
)

// Role represents who authored a message in a tutoring conversation
type Role string

const (
	RoleAI     Role = "ai"
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// TimestampLayout is the display format used for message timestamps
const TimestampLayout = "3:04:05 PM"

// Message is one entry of a tutoring transcript. Messages are never mutated
// once they have been appended to a Transcript.
type Message struct {
	ID        int64  `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Mode      string `json:"mode,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Transcript is the append-only, ordered message log of a session
type Transcript struct {
	messages []Message
	nextID   int64
	now      func() time.Time
}

// NewTranscript creates an empty transcript
func NewTranscript() *Transcript {
	return &Transcript{
		messages: make([]Message, 0),
		nextID:   1,
		now:      time.Now,
	}
}

// Append adds a new message and returns a copy of it
func (t *Transcript) Append(role Role, content, mode string) Message {
	message := Message{
		ID:        t.nextID,
		Role:      role,
		Content:   content,
		Mode:      mode,
		Timestamp: t.now().Format(TimestampLayout),
	}
	t.nextID++
	t.messages = append(t.messages, message)
	return message
}

// Len returns the number of messages in the transcript
func (t *Transcript) Len() int {
	return len(t.messages)
}

// All returns every message in order
func (t *Transcript) All() []Message {
	return t.filter(func(Message) bool { return true })
}

// AIView returns the messages shown in the tutor pane: AI replies and system notices
func (t *Transcript) AIView() []Message {
	return t.filter(func(m Message) bool {
		return m.Role == RoleAI || m.Role == RoleSystem
	})
}

// UserView returns the messages the user typed
func (t *Transcript) UserView() []Message {
	return t.filter(func(m Message) bool {
		return m.Role == RoleUser
	})
}

func (t *Transcript) filter(keep func(Message) bool) []Message {
	out := make([]Message, 0, len(t.messages))
	for _, m := range t.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
