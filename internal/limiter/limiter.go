// Package limiter provides a concurrency limiter for dispatch calls.
// It bounds in-flight dispatches and the number of callers allowed to
// queue for a permit, so a slow router cannot pile up unbounded work.
package limiter

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull means too many callers are already waiting for a permit.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrAcquireTimeout means no permit became available in time.
	ErrAcquireTimeout = errors.New("dispatch permit timeout")
	// ErrClosed means the limiter has been closed.
	ErrClosed = errors.New("limiter closed")
)

// Config holds limiter settings.
type Config struct {
	// MaxConcurrent is the maximum number of in-flight operations.
	// Must be > 0; a zero limit means callers should not build a limiter.
	MaxConcurrent int

	// AcquireTimeout bounds the wait for a permit. 0 waits until the
	// caller's context expires.
	AcquireTimeout time.Duration

	// QueueSize is the maximum number of waiting callers. 0 means unbounded.
	QueueSize int
}

// Limiter is a channel-semaphore concurrency limiter.
type Limiter struct {
	cfg     Config
	permits chan struct{}
	waiting int32
	closed  atomic.Bool
}

// New creates a limiter. MaxConcurrent must be positive.
func New(cfg Config) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	l := &Limiter{
		cfg:     cfg,
		permits: make(chan struct{}, cfg.MaxConcurrent),
	}
	for i := 0; i < cfg.MaxConcurrent; i++ {
		l.permits <- struct{}{}
	}
	return l
}

// Acquire blocks until a permit is available, the configured acquire timeout
// passes, or ctx is done. The returned release function must be called
// exactly once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if l.cfg.QueueSize > 0 && int(atomic.LoadInt32(&l.waiting)) >= l.cfg.QueueSize {
		return nil, ErrQueueFull
	}

	atomic.AddInt32(&l.waiting, 1)
	defer atomic.AddInt32(&l.waiting, -1)

	var timeout <-chan time.Time
	if l.cfg.AcquireTimeout > 0 {
		t := time.NewTimer(l.cfg.AcquireTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-l.permits:
		released := new(atomic.Bool)
		return func() {
			if released.CompareAndSwap(false, true) && !l.closed.Load() {
				l.permits <- struct{}{}
			}
		}, nil
	case <-timeout:
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports the number of permits currently held.
func (l *Limiter) InFlight() int {
	return cap(l.permits) - len(l.permits)
}

// Close rejects further acquisitions. Outstanding permits are abandoned.
func (l *Limiter) Close() {
	l.closed.Store(true)
}
