package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain/repositories"
)

// ToneTTS is an offline TextToSpeech that renders a short sine tone per
// word as 16-bit little-endian mono PCM. Used when no TTS key is set.
type ToneTTS struct {
	SampleRate int
	PerWord    time.Duration
	MaxWords   int
}

var _ repositories.TextToSpeech = (*ToneTTS)(nil)

// NewToneTTS creates a tone generator at the given sample rate
func NewToneTTS(sampleRate int) *ToneTTS {
	return &ToneTTS{
		SampleRate: sampleRate,
		PerWord:    120 * time.Millisecond,
		MaxWords:   20,
	}
}

// ConvertTextToSpeech implements repositories.TextToSpeech
func (t *ToneTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, fmt.Errorf("text cannot be empty")
	}
	if len(words) > t.MaxWords {
		words = words[:t.MaxWords]
	}

	audioChan := make(chan []byte, len(words))
	go func() {
		defer close(audioChan)
		for i, word := range words {
			// vary pitch per word so consecutive words are distinguishable
			freq := 220.0 + float64((len(word)*37+i*11)%440)
			select {
			case audioChan <- t.tone(freq):
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioChan, nil
}

func (t *ToneTTS) tone(freq float64) []byte {
	samples := int(float64(t.SampleRate) * t.PerWord.Seconds())
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := math.Sin(2*math.Pi*freq*float64(i)/float64(t.SampleRate)) * 0.3 * math.MaxInt16
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return buf
}
