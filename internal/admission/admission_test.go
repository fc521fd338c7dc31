package admission

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when told to, so window expiry is deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(opts ...Option) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := NewLimiter(opts...)
	l.now = clock.Now
	return l, clock
}

func TestAllow_QuotaExhaustion(t *testing.T) {
	l, clock := newTestLimiter(WithQuota(5), WithWindow(time.Minute))

	for i := 0; i < 5; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("call %d should be admitted", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("6th call within the window should be rejected")
	}

	// A different client is unaffected.
	if !l.Allow("10.0.0.2") {
		t.Fatal("different client should be admitted")
	}

	// Past the window the earliest stamps expire and the client recovers.
	clock.Advance(time.Minute + time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatal("call after window elapsed should be admitted")
	}
}

func TestAllow_DenialNotRecorded(t *testing.T) {
	l, clock := newTestLimiter(WithQuota(2), WithWindow(time.Minute))

	l.Allow("c")
	l.Allow("c")

	// Hammering while denied must not extend the penalty.
	for i := 0; i < 10; i++ {
		if l.Allow("c") {
			t.Fatal("over-quota call admitted")
		}
	}

	clock.Advance(time.Minute + time.Millisecond)
	if !l.Allow("c") {
		t.Fatal("denials must not count against the window")
	}
}

func TestAllow_SlidingExpiry(t *testing.T) {
	l, clock := newTestLimiter(WithQuota(2), WithWindow(time.Minute))

	l.Allow("c") // t=0
	clock.Advance(40 * time.Second)
	l.Allow("c") // t=40
	if l.Allow("c") {
		t.Fatal("quota full")
	}

	// t=70: the t=0 stamp expired, the t=40 one has not.
	clock.Advance(30 * time.Second)
	if !l.Allow("c") {
		t.Fatal("one slot should have freed up")
	}
	if l.Allow("c") {
		t.Fatal("only one slot should have freed up")
	}
}

func TestAllow_ConcurrentClients(t *testing.T) {
	l, _ := newTestLimiter(WithQuota(3), WithWindow(time.Minute))

	var wg sync.WaitGroup
	admitted := make([]int, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("client-%d", i)
			for j := 0; j < 5; j++ {
				if l.Allow(id) {
					admitted[i]++
				}
			}
		}(i)
	}
	wg.Wait()

	for i, n := range admitted {
		if n != 3 {
			t.Errorf("client %d admitted %d times, want 3", i, n)
		}
	}
}

func TestSweep_DropsEmptyWindows(t *testing.T) {
	l, clock := newTestLimiter(WithQuota(5), WithWindow(time.Minute))

	for i := 0; i < 20; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}
	if got := l.clients(); got != 20 {
		t.Fatalf("tracked clients = %d, want 20", got)
	}

	clock.Advance(2 * time.Minute)
	l.sweep()

	if got := l.clients(); got != 0 {
		t.Errorf("tracked clients after sweep = %d, want 0", got)
	}
}
