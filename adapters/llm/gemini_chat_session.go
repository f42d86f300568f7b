package llm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain/repositories"
)

// contentGenerator is the part of genai.Models used by a chat session
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiChatSession implements the ChatSession interface
type GeminiChatSession struct {
	models   contentGenerator
	config   GeminiConfig
	logger   *zap.Logger
	history  []repositories.ChatMessage
	backoff  time.Duration
	fallback int
}

func newGeminiChatSession(models contentGenerator, config GeminiConfig, logger *zap.Logger, history []repositories.ChatMessage) *GeminiChatSession {
	return &GeminiChatSession{
		models:  models,
		config:  config.withDefaults(),
		logger:  logger,
		history: append([]repositories.ChatMessage(nil), history...),
		backoff: time.Second,
	}
}

// SendMessage sends a message and gets a response, updating the history.
// Model failures produce a fallback reply rather than an error.
func (s *GeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	contents := toGeminiContents(s.history)
	contents = append(contents, genai.NewContentFromText(message.Content, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(tutorSystemPrompt, genai.RoleUser),
		SafetySettings:    tutorSafetySettings,
		Temperature:       genai.Ptr(s.config.Temperature),
		TopP:              genai.Ptr(s.config.TopP),
		TopK:              genai.Ptr(s.config.TopK),
		MaxOutputTokens:   int32(s.config.MaxOutputTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.config.TimeoutSeconds)*time.Second)
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = s.models.GenerateContent(ctx, s.config.Model, contents, config)
		if err == nil {
			break
		}

		s.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * s.backoff):
			case <-ctx.Done():
				return repositories.ChatMessage{}, ctx.Err()
			}
		}
	}

	s.history = append(s.history, repositories.ChatMessage{Role: repositories.UserRole, Content: message.Content})

	if err != nil {
		s.logger.Error("Failed to send message in chat session", zap.Error(err))
		return s.fallbackReply(), nil
	}

	text := responseText(response)
	if text == "" {
		s.logger.Warn("Empty response in chat session")
		return s.fallbackReply(), nil
	}

	reply := repositories.ChatMessage{
		Role:    repositories.TutorRole,
		Content: text,
	}
	s.history = append(s.history, reply)

	s.logger.Info("Chat session message processed",
		zap.String("user_message", preview(message.Content)),
		zap.String("response_preview", preview(text)),
		zap.Int("history_length", len(s.history)))

	return reply, nil
}

// History returns the current conversation history
func (s *GeminiChatSession) History() ([]repositories.ChatMessage, error) {
	return append([]repositories.ChatMessage(nil), s.history...), nil
}

func (s *GeminiChatSession) fallbackReply() repositories.ChatMessage {
	reply := repositories.ChatMessage{
		Role:    repositories.TutorRole,
		Content: tutorFallbacks[s.fallback%len(tutorFallbacks)],
		Mode:    "chat",
	}
	s.fallback++
	s.history = append(s.history, reply)
	return reply
}

func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// toGeminiContents converts repository messages to Gemini format.
// System messages are dropped; the system prompt is sent as an instruction.
func toGeminiContents(messages []repositories.ChatMessage) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case repositories.UserRole:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case repositories.TutorRole:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}
	return contents
}

func preview(s string) string {
	if len(s) > 50 {
		return s[:50]
	}
	return s
}
