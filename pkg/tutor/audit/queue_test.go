package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_RunsSubmittedJobs(t *testing.T) {
	t.Parallel()
	q := NewQueue(8, time.Second, nil)

	var ran atomic.Int32
	done := make(chan struct{})
	q.Submit(func(context.Context) error {
		ran.Add(1)
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
	if ran.Load() != 1 {
		t.Fatalf("ran = %d", ran.Load())
	}
}

func TestQueue_SubmitNeverBlocksWhenFull(t *testing.T) {
	t.Parallel()
	q := NewQueue(1, time.Second, nil)

	block := make(chan struct{})
	q.Submit(func(context.Context) error {
		<-block
		return nil
	})
	// One fills the buffer, the rest must drop instantly.
	for i := 0; i < 10; i++ {
		q.Submit(func(context.Context) error { return nil })
	}
	close(block)

	if q.Dropped() == 0 {
		t.Fatal("expected dropped jobs under backpressure")
	}
}

func TestQueue_JobFailureDoesNotStopWorker(t *testing.T) {
	t.Parallel()
	q := NewQueue(8, time.Second, nil)

	q.Submit(func(context.Context) error { return errors.New("db down") })

	done := make(chan struct{})
	q.Submit(func(context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stopped after a failed job")
	}
}

func TestQueue_RecoverFromPanickingJob(t *testing.T) {
	t.Parallel()
	q := NewQueue(8, time.Second, nil)

	q.Submit(func(context.Context) error { panic("boom") })

	done := make(chan struct{})
	q.Submit(func(context.Context) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died on panic")
	}
}

func TestQueue_CloseDrainsPending(t *testing.T) {
	t.Parallel()
	q := NewQueue(8, time.Second, nil)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		q.Submit(func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Close(ctx)

	if ran.Load() != 5 {
		t.Fatalf("ran = %d, want 5", ran.Load())
	}
}

func TestQueue_SubmitAfterCloseIsDropped(t *testing.T) {
	t.Parallel()
	q := NewQueue(8, time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Close(ctx)

	// Must not panic on the closed channel.
	q.Submit(func(context.Context) error {
		t.Error("job ran after close")
		return nil
	})
	time.Sleep(20 * time.Millisecond)
}

func TestQueue_JobContextCarriesTimeout(t *testing.T) {
	t.Parallel()
	q := NewQueue(8, 50*time.Millisecond, nil)

	got := make(chan bool, 1)
	q.Submit(func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		got <- ok
		return nil
	})
	select {
	case ok := <-got:
		if !ok {
			t.Fatal("job context has no deadline")
		}
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}
