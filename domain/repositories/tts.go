package repositories

import "context"

// TextToSpeech streams synthesized speech for a piece of text
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}
