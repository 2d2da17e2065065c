package web

// limiter.go caps how many reports are generated and mailed at the same
// time. Each job holds the whole CSV in memory and one SMTP session, so
// requests beyond the cap wait up to maxWait for a slot and then fail with
// errBusy.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var errBusy = errors.New("all report slots are busy")

// jobLimiter is a counting semaphore over report jobs.
type jobLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

func newJobLimiter(maxConcurrent int, maxWait time.Duration) *jobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &jobLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// acquire blocks until a slot is free, maxWait elapses (errBusy) or ctx is
// done (ctx.Err()). The caller must release after a nil return.
func (l *jobLimiter) acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	default:
	}

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-timer.C:
		return errBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *jobLimiter) release() {
	l.active.Add(-1)
	<-l.slots
}

// activeCount returns the number of jobs holding a slot.
func (l *jobLimiter) activeCount() int {
	return int(l.active.Load())
}
