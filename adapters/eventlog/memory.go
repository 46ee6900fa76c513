package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

func init() {
	Register("memory", func(_ map[string]any) (Log, error) {
		return NewMemory(), nil
	})
}

// MemoryLog is an in-process Log for tests and single-node deployments.
type MemoryLog struct {
	mu      sync.RWMutex
	streams map[string][]Event
	closed  bool
}

// NewMemory creates an empty in-process log.
func NewMemory() *MemoryLog {
	return &MemoryLog{streams: make(map[string][]Event)}
}

func (l *MemoryLog) Initialize(context.Context) error { return nil }

func (l *MemoryLog) Shutdown(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *MemoryLog) Health(context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return fmt.Errorf("memory event log is shut down")
	}
	return nil
}

func (l *MemoryLog) Append(_ context.Context, stream string, expect int64, events []Event) (int64, error) {
	if stream == "" {
		return 0, fmt.Errorf("eventlog: stream is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, fmt.Errorf("memory event log is shut down")
	}

	current := int64(len(l.streams[stream]))
	if expect != ExpectAny && expect != current {
		return current, fmt.Errorf("%w: stream %q at %d, expected %d", ErrVersionConflict, stream, current, expect)
	}

	now := time.Now().UTC()
	for _, ev := range events {
		current++
		ev.Stream = stream
		ev.Version = current
		ev.RecordedAt = now
		l.streams[stream] = append(l.streams[stream], ev)
	}
	return current, nil
}

func (l *MemoryLog) Read(_ context.Context, stream string, after int64, limit int) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, fmt.Errorf("memory event log is shut down")
	}

	all := l.streams[stream]
	var out []Event
	for _, ev := range all {
		if ev.Version <= after {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
