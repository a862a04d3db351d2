// Package ratelimit provides per-host pacing for the fetch pipeline: an
// interval mode with jitter and a token-bucket mode, plus an externally
// settable cooldown-until deadline that always takes precedence.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Mode selects which pacing discipline a host uses.
type Mode int

const (
	// ModeInterval waits until elapsed-since-last-release falls in
	// [MinInterval, MaxInterval] ± Jitter.
	ModeInterval Mode = iota
	// ModeTokenBucket uses a classical refill-and-consume token bucket.
	ModeTokenBucket
)

// Policy configures one host's pacing discipline.
type Policy struct {
	Mode Mode

	MinInterval time.Duration
	MaxInterval time.Duration
	Jitter      time.Duration

	RPS   float64
	Burst int
}

type hostState struct {
	mu          sync.Mutex
	policy      Policy
	limiter     *rate.Limiter
	lastRelease time.Time
	cooldown    time.Time
}

// Limiter paces callers per host key. Distinct hosts never block each
// other; a single host never releases two interval-mode callers
// concurrently.
type Limiter struct {
	mu    sync.Mutex
	hosts map[string]*hostState
	now   func() time.Time
}

// New returns an empty Limiter.
func New() *Limiter {
	return &Limiter{hosts: make(map[string]*hostState), now: time.Now}
}

func (l *Limiter) state(host string, policy Policy) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	hs, ok := l.hosts[host]
	if !ok {
		hs = &hostState{policy: policy}
		if policy.Mode == ModeTokenBucket {
			hs.limiter = rate.NewLimiter(rate.Limit(policy.RPS), policy.Burst)
		}
		l.hosts[host] = hs
	}
	return hs
}

// Acquire blocks (respecting ctx) until host's pacing policy permits one
// request, then records the release.
func (l *Limiter) Acquire(ctx context.Context, host string, policy Policy) error {
	hs := l.state(host, policy)

	hs.mu.Lock()
	cooldownUntil := hs.cooldown
	if policy.Mode == ModeTokenBucket && hs.limiter == nil {
		hs.limiter = rate.NewLimiter(rate.Limit(policy.RPS), policy.Burst)
		hs.policy = policy
	}
	hs.mu.Unlock()
	if wait := time.Until(cooldownUntil); wait > 0 {
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}

	switch policy.Mode {
	case ModeTokenBucket:
		return hs.limiter.Wait(ctx)
	default:
		return l.acquireInterval(ctx, hs, policy)
	}
}

func (l *Limiter) acquireInterval(ctx context.Context, hs *hostState, policy Policy) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	target := jitteredInterval(policy)
	// Re-check after every sleep: another caller may have released while
	// the lock was dropped, which restarts the wait from its release.
	for !hs.lastRelease.IsZero() {
		elapsed := time.Since(hs.lastRelease)
		if elapsed >= target {
			break
		}
		hs.mu.Unlock()
		err := sleepCtx(ctx, target-elapsed)
		hs.mu.Lock()
		if err != nil {
			return err
		}
	}
	hs.lastRelease = time.Now()
	return nil
}

func jitteredInterval(policy Policy) time.Duration {
	span := policy.MaxInterval - policy.MinInterval
	base := policy.MinInterval
	if span > 0 {
		base += time.Duration(rand.Int63n(int64(span) + 1))
	}
	if policy.Jitter > 0 {
		delta := time.Duration(rand.Int63n(int64(policy.Jitter)*2+1)) - policy.Jitter
		base += delta
	}
	if base < 0 {
		base = 0
	}
	return base
}

// Cooldown sets (or extends) a host's cooldown-until deadline; any
// acquisition must wait past it before applying the host's normal policy.
func (l *Limiter) Cooldown(host string, until time.Time) {
	hs := l.state(host, Policy{})
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if until.After(hs.cooldown) {
		hs.cooldown = until
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
