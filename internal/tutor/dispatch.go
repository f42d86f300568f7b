package tutor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/NavaneethWKT/Tuition-master-sub000/domain"
	"github.com/NavaneethWKT/Tuition-master-sub000/domain/entities"
	"github.com/NavaneethWKT/Tuition-master-sub000/internal/audio"
)

// dispatch routes one inbound envelope. Unknown types are ignored.
func (s *Session) dispatch(data []byte) {
	env, err := domain.DecodeInbound(data)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEnvelope) {
			s.logger.Debug("Ignoring envelope", zap.String("type", string(env.Type)))
			return
		}
		s.logger.Warn("Failed to parse envelope", zap.Error(err))
		return
	}

	switch env.Type {
	case domain.EnvelopeResponse:
		s.typing = false
		s.appendMessage(entities.RoleAI, env.Response, env.Mode)

	case domain.EnvelopeAudio:
		s.clipSeq++
		clip, err := audio.DecodeClip(s.clipSeq, env.Audio)
		if err != nil {
			s.logger.Warn("Failed to decode audio clip", zap.Error(err))
			s.appendMessage(entities.RoleSystem, fmt.Sprintf("Audio playback failed: %v", err), "")
			return
		}
		s.queue.Enqueue(clip)

	case domain.EnvelopeAudioError:
		s.appendMessage(entities.RoleSystem, fmt.Sprintf("Audio error: %s", env.Message), "")

	case domain.EnvelopeSystem:
		s.appendMessage(entities.RoleSystem, env.Message, "")

	case domain.EnvelopeError:
		s.typing = false
		s.appendMessage(entities.RoleSystem, fmt.Sprintf("Error: %s", env.Message), "")
	}
}
