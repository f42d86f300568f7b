package usecase

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain/repositories"
)

// Reply modes attached to tutor responses
const (
	ModeExplain = "explain"
	ModeQuiz    = "quiz"
	ModeChat    = "chat"
)

// ErrSpeechDisabled is returned by Synthesize when no TTS is configured.
var ErrSpeechDisabled = fmt.Errorf("speech synthesis is not configured")

// TutorService orchestrates one tutoring turn: the LLM reply and, when
// configured, its spoken version.
type TutorService struct {
	llm    repositories.LargeLanguageModel
	tts    repositories.TextToSpeech
	logger *zap.Logger
}

// NewTutorService creates a new tutor service. tts may be nil.
func NewTutorService(llm repositories.LargeLanguageModel, tts repositories.TextToSpeech, logger *zap.Logger) *TutorService {
	return &TutorService{
		llm:    llm,
		tts:    tts,
		logger: logger,
	}
}

// SpeechEnabled reports whether replies are also synthesized.
func (s *TutorService) SpeechEnabled() bool {
	return s.tts != nil
}

// StartConversation opens a chat session for a new client
func (s *TutorService) StartConversation(ctx context.Context) (repositories.ChatSession, error) {
	chat, err := s.llm.GenerateChat(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start chat session: %w", err)
	}
	return chat, nil
}

// Reply sends the user's message and returns the tutor reply with its mode
func (s *TutorService) Reply(ctx context.Context, chat repositories.ChatSession, content string) (repositories.ChatMessage, error) {
	reply, err := chat.SendMessage(ctx, repositories.ChatMessage{
		Role:    repositories.UserRole,
		Content: content,
	})
	if err != nil {
		return repositories.ChatMessage{}, fmt.Errorf("failed to get tutor reply: %w", err)
	}

	if reply.Mode == "" {
		reply.Mode = ClassifyMode(content)
	}

	s.logger.Info("Tutor reply generated",
		zap.String("mode", reply.Mode),
		zap.Int("length", len(reply.Content)))

	return reply, nil
}

// Synthesize converts text to a single audio clip
func (s *TutorService) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.tts == nil {
		return nil, ErrSpeechDisabled
	}

	audioChan, err := s.tts.ConvertTextToSpeech(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to convert text to speech: %w", err)
	}

	var buf bytes.Buffer
	for chunk := range audioChan {
		buf.Write(chunk)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("speech synthesis produced no audio")
	}

	s.logger.Debug("Speech synthesized", zap.Int("totalBytes", buf.Len()))
	return buf.Bytes(), nil
}

// ClassifyMode picks a reply mode from the student's message
func ClassifyMode(content string) string {
	text := strings.ToLower(content)

	for _, kw := range []string{"quiz", "test me", "practice question", "ask me"} {
		if strings.Contains(text, kw) {
			return ModeQuiz
		}
	}
	for _, kw := range []string{"explain", "what is", "what are", "why", "how does", "how do", "define"} {
		if strings.Contains(text, kw) {
			return ModeExplain
		}
	}
	return ModeChat
}
