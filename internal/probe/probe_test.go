package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock advances virtual time instantly on every wait so ceiling
// semantics can be tested without real sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func TestAwaitReadyAfterWarmup(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWithClock(srv.Client(), &fakeClock{})
	err := p.AwaitReady(context.Background(), srv.URL, Policy{Interval: 5 * time.Second, Ceiling: 5 * time.Minute}, nil)
	if err != nil {
		t.Fatalf("AwaitReady() error = %v", err)
	}
	if got := polls.Load(); got != 3 {
		t.Errorf("polls = %d, want 3", got)
	}
}

func TestAwaitReadyTimesOutAfterFullCeiling(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewWithClock(srv.Client(), &fakeClock{})
	err := p.AwaitReady(context.Background(), srv.URL, Policy{Interval: 5 * time.Second, Ceiling: 25 * time.Second}, nil)
	if !errors.Is(err, ErrReadinessTimeout) {
		t.Fatalf("AwaitReady() error = %v, want ErrReadinessTimeout", err)
	}
	// Polls happen at t=0,5,10,15,20; the ceiling elapses only after the
	// full 25s, never a poll early.
	if got := polls.Load(); got != 5 {
		t.Errorf("polls = %d, want 5", got)
	}
}

func TestAwaitReadyFailsFastWhenEnvironmentDies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var aliveChecks atomic.Int64
	alive := func(context.Context) bool {
		return aliveChecks.Add(1) < 3
	}

	p := NewWithClock(srv.Client(), &fakeClock{})
	err := p.AwaitReady(context.Background(), srv.URL, Policy{Interval: 5 * time.Second, Ceiling: time.Hour}, alive)
	if !errors.Is(err, ErrEnvironmentDied) {
		t.Fatalf("AwaitReady() error = %v, want ErrEnvironmentDied", err)
	}
	if got := aliveChecks.Load(); got != 3 {
		t.Errorf("alive checks = %d, want 3 (fail fast, not after ceiling)", got)
	}
}

func TestAwaitReadyHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewWithClock(srv.Client(), &fakeClock{})
	err := p.AwaitReady(ctx, srv.URL, Policy{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AwaitReady() error = %v, want context.Canceled", err)
	}
}

func TestPolicyNormalized(t *testing.T) {
	p := Policy{}.normalized()
	if p.Interval != 5*time.Second {
		t.Errorf("Interval = %v, want 5s", p.Interval)
	}
	if p.Ceiling != 5*time.Minute {
		t.Errorf("Ceiling = %v, want 5m", p.Ceiling)
	}

	p = Policy{Interval: time.Second, Ceiling: time.Minute}.normalized()
	if p.Interval != time.Second || p.Ceiling != time.Minute {
		t.Errorf("normalized() altered explicit values: %+v", p)
	}
}
