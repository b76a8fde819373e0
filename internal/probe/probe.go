// Package probe polls a serving environment's health endpoint until it is
// ready, the environment dies, or the ceiling elapses.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrEnvironmentDied is returned when the environment stops before readiness.
var ErrEnvironmentDied = errors.New("environment died before becoming ready")

// ErrReadinessTimeout is returned when the ceiling elapses without readiness.
var ErrReadinessTimeout = errors.New("readiness ceiling elapsed")

// Policy controls poll cadence. Both values come from configuration; slow
// cold starts need a generous ceiling, not a different prober.
type Policy struct {
	Interval time.Duration
	Ceiling  time.Duration
}

func (p Policy) normalized() Policy {
	if p.Interval <= 0 {
		p.Interval = 5 * time.Second
	}
	if p.Ceiling <= 0 {
		p.Ceiling = 5 * time.Minute
	}
	return p
}

// Clock abstracts time so tests can run the prober on virtual time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// AliveFunc reports whether the environment behind the health URL is still up.
type AliveFunc func(ctx context.Context) bool

// Prober awaits readiness of a health endpoint.
type Prober struct {
	client *http.Client
	clock  Clock
}

func New(client *http.Client) *Prober {
	return &Prober{client: client, clock: realClock{}}
}

// NewWithClock builds a prober on an injected clock for virtual-time tests.
func NewWithClock(client *http.Client, clock Clock) *Prober {
	return &Prober{client: client, clock: clock}
}

// AwaitReady polls healthURL at the policy interval until a 2xx response.
// Each poll first checks the environment is alive so a crashed environment
// fails fast instead of exhausting the ceiling.
func (p *Prober) AwaitReady(ctx context.Context, healthURL string, policy Policy, alive AliveFunc) error {
	policy = policy.normalized()
	deadline := p.clock.Now().Add(policy.Ceiling)

	for p.clock.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if alive != nil && !alive(ctx) {
			return ErrEnvironmentDied
		}

		if p.poll(ctx, healthURL, policy.Interval) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(policy.Interval):
		}
	}
	return fmt.Errorf("%w after %s", ErrReadinessTimeout, policy.Ceiling)
}

// poll issues one bounded-timeout health request; any 2xx status is ready.
func (p *Prober) poll(ctx context.Context, healthURL string, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
