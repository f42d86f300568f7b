package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EnvelopeType discriminates realtime tutor envelopes
type EnvelopeType string

// Supported envelope types
const (
	// client -> server
	EnvelopeMessage EnvelopeType = "message"

	// server -> client
	EnvelopeResponse   EnvelopeType = "response"
	EnvelopeAudio      EnvelopeType = "audio"
	EnvelopeAudioError EnvelopeType = "audio_error"
	EnvelopeSystem     EnvelopeType = "system"
	EnvelopeError      EnvelopeType = "error"
)

// ErrUnknownEnvelope is returned for envelopes whose type is not recognised.
var ErrUnknownEnvelope = errors.New("unknown envelope type")

// OutboundMessage is sent by the client for every user turn
type OutboundMessage struct {
	Type             EnvelopeType `json:"type"`
	Content          string       `json:"content"`
	AudioInterrupted bool         `json:"audio_interrupted"`
}

// InboundEnvelope is any envelope sent by the tutoring backend. Only the
// fields relevant to Type are populated.
type InboundEnvelope struct {
	Type     EnvelopeType `json:"type"`
	Response string       `json:"response,omitempty"`
	Mode     string       `json:"mode,omitempty"`
	Audio    string       `json:"audio,omitempty"` // base64 encoded
	Message  string       `json:"message,omitempty"`
}

// NewOutboundMessage creates a user turn envelope
func NewOutboundMessage(content string, audioInterrupted bool) OutboundMessage {
	return OutboundMessage{
		Type:             EnvelopeMessage,
		Content:          content,
		AudioInterrupted: audioInterrupted,
	}
}

// NewResponseEnvelope creates a tutor reply
func NewResponseEnvelope(response, mode string) InboundEnvelope {
	return InboundEnvelope{Type: EnvelopeResponse, Response: response, Mode: mode}
}

// NewAudioEnvelope creates an audio clip envelope from a base64 payload
func NewAudioEnvelope(payload string) InboundEnvelope {
	return InboundEnvelope{Type: EnvelopeAudio, Audio: payload}
}

// NewSystemEnvelope creates a system notice
func NewSystemEnvelope(message string) InboundEnvelope {
	return InboundEnvelope{Type: EnvelopeSystem, Message: message}
}

// NewErrorEnvelope creates a protocol error
func NewErrorEnvelope(message string) InboundEnvelope {
	return InboundEnvelope{Type: EnvelopeError, Message: message}
}

// NewAudioErrorEnvelope reports a failed speech synthesis
func NewAudioErrorEnvelope(message string) InboundEnvelope {
	return InboundEnvelope{Type: EnvelopeAudioError, Message: message}
}

// DecodeInbound parses a server envelope. Envelopes with an unrecognised
// type yield ErrUnknownEnvelope so callers can skip them.
func DecodeInbound(data []byte) (InboundEnvelope, error) {
	var env InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return InboundEnvelope{}, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch env.Type {
	case EnvelopeResponse, EnvelopeAudio, EnvelopeAudioError, EnvelopeSystem, EnvelopeError:
		return env, nil
	default:
		return env, fmt.Errorf("%w: %q", ErrUnknownEnvelope, env.Type)
	}
}

// DecodeOutbound parses and validates a client envelope
func DecodeOutbound(data []byte) (OutboundMessage, error) {
	var msg OutboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return OutboundMessage{}, fmt.Errorf("invalid JSON format: %w", err)
	}

	if msg.Type != EnvelopeMessage {
		return msg, fmt.Errorf("%w: %q", ErrUnknownEnvelope, msg.Type)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return msg, fmt.Errorf("content is required")
	}
	return msg, nil
}
