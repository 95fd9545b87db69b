// Package audit runs best-effort persistence jobs off the conversational
// path. Jobs are fire-and-forget: submission never blocks, failures are
// logged and never propagated, and completion order relative to the next
// conversational turn is unspecified.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one persistence action. The context carries the per-job timeout.
type Job func(ctx context.Context) error

// Queue is a bounded job queue drained by a single background worker.
type Queue struct {
	jobs       chan Job
	logger     *slog.Logger
	jobTimeout time.Duration

	closed  atomic.Bool
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// NewQueue starts the worker. size bounds how many jobs may be pending;
// beyond that, new jobs are dropped with a log line rather than blocking
// the conversation.
func NewQueue(size int, jobTimeout time.Duration, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		jobs:       make(chan Job, size),
		logger:     logger,
		jobTimeout: jobTimeout,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Submit enqueues a job without blocking. Jobs submitted after Close, or
// when the queue is full, are dropped.
func (q *Queue) Submit(job Job) {
	if job == nil || q.closed.Load() {
		return
	}
	select {
	case q.jobs <- job:
	default:
		n := q.dropped.Add(1)
		q.logger.Warn("audit queue full, dropping job", "dropped_total", n)
	}
}

// Dropped returns how many jobs have been dropped due to backpressure.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting jobs and waits for pending ones to drain, up to
// ctx's deadline. In-flight jobs past the deadline are abandoned.
func (q *Queue) Close(ctx context.Context) {
	if q.closed.Swap(true) {
		return
	}
	close(q.jobs)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.logger.Warn("audit queue close timed out, abandoning pending jobs")
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.execute(job)
	}
}

func (q *Queue) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("audit job panicked", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.jobTimeout)
	defer cancel()

	if err := job(ctx); err != nil {
		q.logger.Error("audit job failed", "error", err)
	}
}
