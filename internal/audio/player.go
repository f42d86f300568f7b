package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Player plays a single clip. Play blocks until the clip has finished (nil),
// failed (error) or ctx was cancelled (ctx.Err()).
type Player interface {
	Play(ctx context.Context, clip *Clip) error
}

const (
	defaultSampleRate     = 24000 // matches the pcm_24000 TTS output
	defaultChannels       = 1
	defaultBytesPerSample = 2
)

// PacedPlayer holds each clip for the time it would take to play it as raw
// PCM, optionally copying the samples to Out. Useful when no audio device is
// available.
type PacedPlayer struct {
	SampleRate     int
	Channels       int
	BytesPerSample int
	Out            io.Writer
}

// NewPacedPlayer creates a player for 16-bit mono PCM at sampleRate.
func NewPacedPlayer(sampleRate int, out io.Writer) *PacedPlayer {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return &PacedPlayer{
		SampleRate:     sampleRate,
		Channels:       defaultChannels,
		BytesPerSample: defaultBytesPerSample,
		Out:            out,
	}
}

// Duration returns how long n bytes of PCM take to play.
func (p *PacedPlayer) Duration(n int) time.Duration {
	bytesPerSecond := p.SampleRate * p.Channels * p.BytesPerSample
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

// Play implements Player
func (p *PacedPlayer) Play(ctx context.Context, clip *Clip) error {
	data, err := clip.Bytes()
	if err != nil {
		return err
	}

	if p.Out != nil {
		if _, err := p.Out.Write(data); err != nil {
			return fmt.Errorf("failed to write audio: %w", err)
		}
	}

	timer := time.NewTimer(p.Duration(len(data)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CommandPlayer pipes each clip into an external program, e.g.
// "aplay -q -f S16_LE -r 24000 -c 1". The process is killed on cancel.
type CommandPlayer struct {
	name   string
	args   []string
	logger *zap.Logger
}

// NewCommandPlayer parses a command line into a player.
func NewCommandPlayer(command string, logger *zap.Logger) (*CommandPlayer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("audio command is empty")
	}
	return &CommandPlayer{
		name:   fields[0],
		args:   fields[1:],
		logger: logger,
	}, nil
}

// Play implements Player
func (p *CommandPlayer) Play(ctx context.Context, clip *Clip) error {
	data, err := clip.Bytes()
	if err != nil {
		return err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.name, p.args...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stderr = &stderr

	p.logger.Debug("Starting audio command",
		zap.String("command", p.name),
		zap.Int64("clipID", clip.ID),
		zap.Int("size", len(data)))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio command %s failed: %w: %s", p.name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
