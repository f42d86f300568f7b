package tutorserver

import (
	"time"

	"go.uber.org/zap"
)

// IdleReaper periodically disconnects clients that stopped talking.
type IdleReaper struct {
	hub      *Hub
	interval time.Duration
	maxIdle  time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewIdleReaper creates a reaper that checks every interval
func NewIdleReaper(hub *Hub, interval, maxIdle time.Duration, logger *zap.Logger) *IdleReaper {
	return &IdleReaper{
		hub:      hub,
		interval: interval,
		maxIdle:  maxIdle,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background reaping loop
func (r *IdleReaper) Start() {
	go r.reapLoop()
	r.logger.Info("Idle client reaper started", zap.Duration("maxIdle", r.maxIdle))
}

// Stop stops the reaping loop. It must be called at most once.
func (r *IdleReaper) Stop() {
	close(r.stopChan)
	r.logger.Info("Idle client reaper stopped")
}

func (r *IdleReaper) reapLoop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			if n := r.hub.CloseIdle(r.maxIdle); n > 0 {
				r.logger.Info("Closed idle clients", zap.Int("count", n))
			}
		}
	}
}
