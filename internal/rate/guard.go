package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces the cooldown and request budget for a provider.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu       sync.Mutex
	bucket   *bucket
	cooldown time.Time
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{
		base:  transport,
		guard: NewGuard(decl, time.Now),
	}
	return &client
}

func NewGuard(decl Declaration, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	g := &Guard{decl: decl, now: now}
	if decl.perMinute > 0 {
		g.bucket = &bucket{
			capacity: decl.perMinute,
			tokens:   float64(decl.perMinute),
			last:     now(),
		}
	}
	return g
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		rejectedTotal.WithLabelValues(rt.guard.decl.ProviderName(), decision.Reason).Inc()
		return nil, RateLimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}
	if g.bucket == nil {
		return Decision{Allowed: true}
	}
	if !consumeToken(g.bucket, now, time.Minute) {
		retryAt := g.bucket.last.Add(time.Minute / time.Duration(g.bucket.capacity))
		return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
	}
	return Decision{Allowed: true}
}

// RecordResponse starts a cooldown on 429 responses.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	lastStatusGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(status))
	if status != http.StatusTooManyRequests {
		return
	}

	wait := g.decl.defaultPeriod
	if seconds, ok := headerSeconds(headers, g.decl.retryHeader); ok {
		wait = time.Duration(seconds) * time.Second
	}
	if g.decl.maxCooldown > 0 && wait > g.decl.maxCooldown {
		wait = g.decl.maxCooldown
	}

	g.mu.Lock()
	g.cooldown = g.now().Add(wait)
	g.mu.Unlock()
	retryAfterGauge.WithLabelValues(g.decl.ProviderName()).Set(wait.Seconds())
}

func headerSeconds(h http.Header, key string) (int, bool) {
	if key == "" {
		return 0, false
	}
	val := strings.TrimSpace(h.Get(key))
	if val == "" {
		return 0, false
	}
	out, err := strconv.Atoi(val)
	if err != nil || out < 0 {
		return 0, false
	}
	return out, true
}

func consumeToken(b *bucket, now time.Time, window time.Duration) bool {
	if b.last.IsZero() {
		b.last = now
	}
	elapsed := now.Sub(b.last).Seconds()
	refillRate := float64(b.capacity) / window.Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*refillRate)
	b.last = now
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}
