// Package admission provides a sliding-window rate limiter keyed by client
// identifier. It gates requests before any upstream resource is acquired.
package admission

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	// DefaultQuota is the default number of requests allowed per window.
	DefaultQuota = 5

	// DefaultWindow is the default trailing window duration.
	DefaultWindow = time.Minute

	// shardCount fixes the number of lock shards. Checks for different
	// clients land on different shards and do not contend.
	shardCount = 16
)

// Limiter is a sliding-window rate limiter. Each client identifier owns an
// ordered sequence of request timestamps inside the trailing window; entries
// older than the window are purged lazily on access.
type Limiter struct {
	quota  int
	window time.Duration
	shards [shardCount]*shard

	// now is replaceable in tests.
	now func() time.Time

	sweepStop chan struct{}
	sweepOnce sync.Once
}

type shard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// Option is a functional option for configuring a Limiter.
type Option func(*Limiter)

// WithQuota sets the number of requests allowed per window.
func WithQuota(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.quota = n
		}
	}
}

// WithWindow sets the trailing window duration.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// NewLimiter creates a limiter with the given options.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		quota:     DefaultQuota,
		window:    DefaultWindow,
		now:       time.Now,
		sweepStop: make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string][]time.Time)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a request from clientID is admitted. When admitted,
// the current timestamp is recorded against the client's window; denials
// record nothing.
func (l *Limiter) Allow(clientID string) bool {
	now := l.now()
	sh := l.shardFor(clientID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	recent := pruneBefore(sh.windows[clientID], now.Add(-l.window))
	if len(recent) >= l.quota {
		// Keep the pruned window; the denied request is not recorded.
		sh.windows[clientID] = recent
		return false
	}

	sh.windows[clientID] = append(recent, now)
	return true
}

// StartSweeper launches a background goroutine that periodically drops
// clients whose windows have emptied, bounding memory under identifier
// churn. It is safe to call at most once; StopSweeper stops it.
func (l *Limiter) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-l.sweepStop:
				return
			}
		}
	}()
}

// StopSweeper stops the background sweeper, if started.
func (l *Limiter) StopSweeper() {
	l.sweepOnce.Do(func() { close(l.sweepStop) })
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.window)
	for _, sh := range l.shards {
		sh.mu.Lock()
		for id, stamps := range sh.windows {
			if recent := pruneBefore(stamps, cutoff); len(recent) == 0 {
				delete(sh.windows, id)
			} else {
				sh.windows[id] = recent
			}
		}
		sh.mu.Unlock()
	}
}

// clients returns the number of tracked client windows across all shards.
func (l *Limiter) clients() int {
	total := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		total += len(sh.windows)
		sh.mu.Unlock()
	}
	return total
}

func (l *Limiter) shardFor(clientID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return l.shards[h.Sum32()%shardCount]
}

// pruneBefore drops timestamps at or before cutoff, preserving order.
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}
