package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain/repositories"
)

// MockTutor is an offline LargeLanguageModel for development and tests
type MockTutor struct{}

var _ repositories.LargeLanguageModel = (*MockTutor)(nil)

// NewMockTutor creates a new mock tutor
func NewMockTutor() *MockTutor {
	return &MockTutor{}
}

// GenerateChat implements repositories.LargeLanguageModel
func (m *MockTutor) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return &MockTutorSession{
		history: append([]repositories.ChatMessage(nil), history...),
	}, nil
}

// MockTutorSession implements repositories.ChatSession
type MockTutorSession struct {
	history []repositories.ChatMessage
}

// SendMessage implements repositories.ChatSession
func (m *MockTutorSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return repositories.ChatMessage{}, err
	}

	m.history = append(m.history, message)

	topic := strings.TrimSpace(message.Content)
	var reply repositories.ChatMessage
	switch lower := strings.ToLower(topic); {
	case strings.Contains(lower, "quiz"):
		reply = repositories.ChatMessage{Content: "Here is a question for you: what is 7 times 8?", Mode: "quiz"}
	case strings.Contains(lower, "explain"):
		reply = repositories.ChatMessage{Content: fmt.Sprintf("Let's break it down step by step: %s.", topic), Mode: "explain"}
	default:
		reply = repositories.ChatMessage{Content: fmt.Sprintf("You said: %s. What would you like to learn next?", topic)}
	}
	reply.Role = repositories.TutorRole

	m.history = append(m.history, reply)
	return reply, nil
}

// History implements repositories.ChatSession
func (m *MockTutorSession) History() ([]repositories.ChatMessage, error) {
	return append([]repositories.ChatMessage(nil), m.history...), nil
}
