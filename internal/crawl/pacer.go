package crawl

import (
	"context"
	"time"
)

// Pacer blocks between consecutive requests to bound the request rate.
type Pacer interface {
	Pause(ctx context.Context, delay time.Duration)
}

// TimerPacer sleeps for the requested delay or until ctx is done.
type TimerPacer struct{}

// Pause implements Pacer.
func (TimerPacer) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
