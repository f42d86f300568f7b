// Package audio sequences spoken tutor replies: clips play one at a time in
// arrival order and can all be cancelled at once when the user moves on.
package audio

import (
	"context"

	"go.uber.org/zap"

	"github.com/NavaneethWKT/Tuition-master-sub000/internal/loop"
)

// Audio status values reported by Queue.Status.
const (
	StatusIdle    = ""
	StatusPlaying = "playing"
)

// Hooks are invoked on the loop goroutine.
type Hooks struct {
	OnStart func(clip *Clip)
	OnIdle  func()
	OnError func(clip *Clip, err error)
}

// Queue is a FIFO of clips with at most one clip playing. All methods must
// be called from the owning loop's goroutine; playback runs on a separate
// goroutine and reports back through the loop.
type Queue struct {
	loop   *loop.Loop
	player Player
	hooks  Hooks
	logger *zap.Logger

	pending []*Clip
	current *Clip
	stop    context.CancelFunc
	status  string
}

// NewQueue creates an idle queue bound to l.
func NewQueue(l *loop.Loop, player Player, hooks Hooks, logger *zap.Logger) *Queue {
	return &Queue{
		loop:   l,
		player: player,
		hooks:  hooks,
		logger: logger,
		status: StatusIdle,
	}
}

// Enqueue appends clip and starts playback if nothing is playing.
func (q *Queue) Enqueue(clip *Clip) {
	q.pending = append(q.pending, clip)
	q.logger.Debug("Audio clip queued",
		zap.Int64("clipID", clip.ID),
		zap.Int("size", clip.Size()),
		zap.Int("pending", len(q.pending)))

	if q.current == nil {
		q.playNext()
	}
}

// CancelAll stops the playing clip and discards every queued clip, releasing
// all of them. It reports whether anything was playing or queued.
func (q *Queue) CancelAll() bool {
	active := q.current != nil || len(q.pending) > 0
	if !active {
		return false
	}

	if q.current != nil {
		q.stop()
		q.current.Release()
		q.logger.Info("Audio playback interrupted", zap.Int64("clipID", q.current.ID))
		q.current = nil
		q.stop = nil
	}

	for i, clip := range q.pending {
		clip.Release()
		q.pending[i] = nil
	}
	dropped := len(q.pending)
	q.pending = nil
	q.status = StatusIdle

	q.logger.Debug("Audio queue cleared", zap.Int("dropped", dropped))
	return true
}

// Playing reports whether a clip is currently playing.
func (q *Queue) Playing() bool {
	return q.current != nil
}

// Len returns the number of clips waiting behind the playing one.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Status returns StatusPlaying or StatusIdle.
func (q *Queue) Status() string {
	return q.status
}

func (q *Queue) playNext() {
	if len(q.pending) == 0 {
		q.current = nil
		q.stop = nil
		q.status = StatusIdle
		if q.hooks.OnIdle != nil {
			q.hooks.OnIdle()
		}
		return
	}

	clip := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	ctx, cancel := context.WithCancel(context.Background())
	q.current = clip
	q.stop = cancel
	q.status = StatusPlaying

	if q.hooks.OnStart != nil {
		q.hooks.OnStart(clip)
	}

	go func() {
		err := q.player.Play(ctx, clip)
		q.loop.Post(func() {
			q.finished(clip, err)
		})
	}()
}

func (q *Queue) finished(clip *Clip, err error) {
	// A cancelled clip was already released and replaced.
	if q.current != clip {
		return
	}

	q.stop()
	clip.Release()
	q.current = nil
	q.stop = nil

	if err != nil {
		q.logger.Warn("Audio playback failed",
			zap.Int64("clipID", clip.ID),
			zap.Error(err))
		if q.hooks.OnError != nil {
			q.hooks.OnError(clip, err)
		}
	}

	q.playNext()
}
