package repositories

import "context"

// LargeLanguageModel abstracts any chat/LLM provider that can act as a tutor
type LargeLanguageModel interface {
	// GenerateChat creates a chat session with history
	GenerateChat(ctx context.Context, history []ChatMessage) (ChatSession, error)
}

// ChatSession represents an ongoing tutoring conversation
type ChatSession interface {
	SendMessage(ctx context.Context, message ChatMessage) (ChatMessage, error)
	History() ([]ChatMessage, error)
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Mode labels a tutor reply, e.g. "explain" or "quiz"
	Mode string `json:"mode,omitempty"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole   Role = "user"
	TutorRole  Role = "tutor"
	SystemRole Role = "system"
)
