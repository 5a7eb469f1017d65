package logger

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits how often a repeating message is written.
// Suppressed occurrences are counted and reported with the next written entry.
type Throttle struct {
	limiter    *rate.Limiter
	mu         sync.Mutex
	suppressed int
}

// NewThrottle allows one entry per interval with the given burst.
func NewThrottle(interval time.Duration, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}

	return &Throttle{
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// ErrorKV writes an error entry unless the throttle is exhausted.
func (t *Throttle) ErrorKV(ctx context.Context, message string, kvs ...any) {
	if kvs, ok := t.admit(kvs); ok {
		ErrorKV(ctx, message, kvs...)
	}
}

// WarnKV writes a warning entry unless the throttle is exhausted.
func (t *Throttle) WarnKV(ctx context.Context, message string, kvs ...any) {
	if kvs, ok := t.admit(kvs); ok {
		WarnKV(ctx, message, kvs...)
	}
}

// admit reports whether an entry may be written and appends the
// suppressed counter when earlier entries were dropped.
func (t *Throttle) admit(kvs []any) ([]any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.limiter.Allow() {
		t.suppressed++

		return nil, false
	}

	if t.suppressed > 0 {
		kvs = append(kvs, "suppressed", t.suppressed)
		t.suppressed = 0
	}

	return kvs, true
}
