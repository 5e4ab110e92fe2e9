package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Hit is the outcome of recording one request against a key.
type Hit struct {
	Allowed bool
	// Member identifies the recorded entry so it can be released.
	Member string
	// RetryAfter is set on denial: the time until the oldest entry leaves
	// the window.
	RetryAfter time.Duration
}

// Window is a sliding-window counter. Hit records a request only when the
// key is under limit within period; a denied request leaves no trace.
type Window interface {
	Hit(ctx context.Context, key string, limit int, period time.Duration) (Hit, error)
	Release(ctx context.Context, key, member string) error
}

type entry struct {
	at     time.Time
	member string
}

type hitLog struct {
	entries []entry
	period  time.Duration
}

func (l *hitLog) trim(now time.Time) {
	cutoff := now.Add(-l.period)
	i := 0
	for i < len(l.entries) && !l.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		l.entries = append(l.entries[:0], l.entries[i:]...)
	}
}

// MemoryWindow keeps a timestamp log per key in process memory.
type MemoryWindow struct {
	mu   sync.Mutex
	logs map[string]*hitLog
	now  func() time.Time
	seq  atomic.Uint64

	stop chan struct{}
	once sync.Once
}

// MemoryOption customizes a MemoryWindow.
type MemoryOption func(*MemoryWindow)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(w *MemoryWindow) { w.now = now }
}

// NewMemoryWindow starts a janitor that drops idle keys every interval.
// Close stops it.
func NewMemoryWindow(interval time.Duration, opts ...MemoryOption) *MemoryWindow {
	w := &MemoryWindow{
		logs: make(map[string]*hitLog),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go w.cleanup(interval)
	return w
}

func (w *MemoryWindow) Hit(ctx context.Context, key string, limit int, period time.Duration) (Hit, error) {
	if err := ctx.Err(); err != nil {
		return Hit{}, err
	}
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.logs[key]
	if !ok {
		l = &hitLog{}
		w.logs[key] = l
	}
	l.period = period
	l.trim(now)

	if len(l.entries) >= limit {
		retry := l.entries[0].at.Add(period).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Hit{RetryAfter: retry}, nil
	}
	member := strconv.FormatUint(w.seq.Add(1), 10)
	l.entries = append(l.entries, entry{at: now, member: member})
	return Hit{Allowed: true, Member: member}, nil
}

func (w *MemoryWindow) Release(ctx context.Context, key, member string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.logs[key]
	if !ok {
		return nil
	}
	for i, e := range l.entries {
		if e.member == member {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	return nil
}

// Close stops the janitor.
func (w *MemoryWindow) Close() error {
	w.once.Do(func() { close(w.stop) })
	return nil
}

func (w *MemoryWindow) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *MemoryWindow) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for key, l := range w.logs {
		l.trim(now)
		if len(l.entries) == 0 {
			delete(w.logs, key)
		}
	}
}

func (w *MemoryWindow) keys() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.logs)
}

var _ Window = (*MemoryWindow)(nil)
