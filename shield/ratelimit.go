package shield

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Rule caps requests per client IP for paths under Prefix.
type Rule struct {
	Prefix string
	Max    int
	Window time.Duration
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter enforces per-IP request caps using fixed windows. Buckets are
// kept in memory and swept periodically.
type RateLimiter struct {
	rules   []Rule
	buckets sync.Map
	done    chan struct{}
	once    sync.Once
}

// NewRateLimiter builds a limiter from the given rules. Longer prefixes are
// matched first.
func NewRateLimiter(rules []Rule) *RateLimiter {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if len(sorted[j].Prefix) > len(sorted[i].Prefix) {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	rl := &RateLimiter{rules: sorted, done: make(chan struct{})}
	go rl.sweep()
	return rl
}

// DefaultRules returns the standing limits for the API surface.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/api/", Max: 300, Window: time.Minute},
	}
}

// Close stops the background sweeper.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

// Middleware rejects requests over the limit with a JSON 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule, ok := rl.match(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if !rl.allow(rule, clientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) match(path string) (Rule, bool) {
	for _, rule := range rl.rules {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule, true
		}
	}
	return Rule{}, false
}

func (rl *RateLimiter) allow(rule Rule, ip string) bool {
	key := rule.Prefix + "|" + ip
	v, _ := rl.buckets.LoadOrStore(key, &bucket{})
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(rule.Window)
	}
	b.count++
	return b.count <= rule.Max
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			now := time.Now()
			rl.buckets.Range(func(key, v any) bool {
				b := v.(*bucket)
				b.mu.Lock()
				expired := now.After(b.resetAt)
				b.mu.Unlock()
				if expired {
					rl.buckets.Delete(key)
				}
				return true
			})
		}
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
