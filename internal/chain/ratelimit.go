package chain

import (
	"context"
	"time"
)

// RateLimiter enforces a hard cap on calls inside a rolling time window.
// It keeps a time-ordered queue of call timestamps; Wait blocks until a
// slot frees and records the call in the same critical section, so the
// budget cannot be oversubscribed by concurrent callers.
type RateLimiter struct {
	budget int
	window time.Duration

	sem    chan struct{} // guards stamps; buffered size 1 so waiters can select on ctx
	stamps []time.Time

	now func() time.Time
}

// NewRateLimiter builds a limiter allowing at most budget calls per window.
func NewRateLimiter(budget int, window time.Duration) *RateLimiter {
	if budget <= 0 {
		budget = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &RateLimiter{
		budget: budget,
		window: window,
		sem:    make(chan struct{}, 1),
		now:    time.Now,
	}
	l.sem <- struct{}{}
	return l
}

// Wait blocks until the call fits the budget, then records its timestamp.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.sem:
		}

		now := l.now()
		l.prune(now)

		if len(l.stamps) < l.budget {
			l.stamps = append(l.stamps, now)
			l.sem <- struct{}{}
			return nil
		}

		// Budget exhausted: sleep until the oldest call exits the window,
		// then re-check. The slot may be taken by another waiter first.
		wait := l.window - now.Sub(l.stamps[0])
		l.sem <- struct{}{}

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InWindow reports how many calls are currently inside the window.
func (l *RateLimiter) InWindow() int {
	<-l.sem
	l.prune(l.now())
	n := len(l.stamps)
	l.sem <- struct{}{}
	return n
}

func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := 0
	for idx < len(l.stamps) && !l.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[idx:]...)
	}
}
