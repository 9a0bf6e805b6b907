package scheduler

import (
	"context"
	"time"
)

// IntervalScheduler runs a job on a fixed period, starting with one
// immediate run.
type IntervalScheduler struct {
	interval time.Duration
	stop     chan struct{}
}

func NewIntervalScheduler(interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{interval: interval}
}

// Start begins ticking until Stop or context cancellation.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) {
	if job == nil || s.stop != nil {
		return
	}

	s.stop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the ticker goroutine.
func (s *IntervalScheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
}
