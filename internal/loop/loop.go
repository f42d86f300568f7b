// Package loop provides a single-goroutine event loop. Every closure posted
// to a Loop runs on the same goroutine in FIFO order, so state that is only
// touched from posted closures needs no locking.
package loop

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Buffered capacity of the task queue.
const queueSize = 256

// Loop executes posted closures one at a time on its own goroutine.
type Loop struct {
	tasks    chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// New creates a loop. Call Start (or Run) before posting work.
func New(logger *zap.Logger) *Loop {
	return &Loop{
		tasks:  make(chan func(), queueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start() {
	go l.Run()
}

// Run processes tasks until Stop is called.
func (l *Loop) Run() {
	defer close(l.done)

	for {
		select {
		case <-l.quit:
			return
		default:
		}

		select {
		case <-l.quit:
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered from panic in loop task", zap.Any("panic", r))
		}
	}()
	fn()
}

// Post schedules fn. It reports false when the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Call schedules fn and waits for it to finish. It must not be used from
// the loop goroutine itself.
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}

	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Stop ends the loop. Tasks still queued are discarded. Safe to call more
// than once and from any goroutine, including the loop itself.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Timer is a delayed task. Stopping it from the loop goroutine guarantees
// its function never runs, even if the underlying timer already fired.
type Timer struct {
	timer   *time.Timer
	stopped bool
}

// AfterFunc posts fn to the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

// Stop cancels the timer. Must be called from the loop goroutine.
// It reports whether the timer was still pending.
func (t *Timer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}
