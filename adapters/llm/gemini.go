package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain/repositories"
)

// GeminiTutor implements the LargeLanguageModel interface using Google's Gemini API
type GeminiTutor struct {
	client *genai.Client
	config GeminiConfig
	logger *zap.Logger
}

var _ repositories.LargeLanguageModel = (*GeminiTutor)(nil)

// NewGeminiTutor creates a new Gemini-backed tutor
func NewGeminiTutor(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiTutor, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	config = config.withDefaults()
	logger.Info("Gemini tutor ready", zap.String("model", config.Model))

	return &GeminiTutor{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// GenerateChat creates a chat session seeded with history
func (g *GeminiTutor) GenerateChat(ctx context.Context, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return newGeminiChatSession(g.client.Models, g.config, g.logger, history), nil
}
