package handoff

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultCloseDelay gives a superseded session enough time to finish
// speaking its in-flight transition announcement before it silences
// itself. An abrupt interrupt truncates mid-sentence audio.
const DefaultCloseDelay = 3 * time.Second

// GraceClose performs a delayed, graceful close of a session that has
// been superseded by a dispatched worker in the same room.
type GraceClose struct {
	delay   time.Duration
	closeFn func() error
	logger  *slog.Logger

	// afterFunc is swappable for deterministic tests.
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu        sync.Mutex
	timer     *time.Timer
	scheduled bool
}

func NewGraceClose(delay time.Duration, closeFn func() error, logger *slog.Logger) *GraceClose {
	if delay <= 0 {
		delay = DefaultCloseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GraceClose{
		delay:     delay,
		closeFn:   closeFn,
		logger:    logger,
		afterFunc: time.AfterFunc,
	}
}

// Schedule arms the delayed close. Scheduling twice has no additional
// effect; the first delay stands.
func (g *GraceClose) Schedule(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.scheduled {
		return
	}
	g.scheduled = true
	g.logger.Info("session close scheduled", "reason", reason, "delay", g.delay)
	g.timer = g.afterFunc(g.delay, func() {
		if g.closeFn == nil {
			return
		}
		if err := g.closeFn(); err != nil {
			g.logger.Error("graceful session close failed", "reason", reason, "error", err)
		}
	})
}

// Cancel stops a pending close, for when the superseding dispatch failed
// and this session must keep the conversation.
func (g *GraceClose) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
	}
	g.scheduled = false
}

// Scheduled reports whether a close is pending or has fired.
func (g *GraceClose) Scheduled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scheduled
}
