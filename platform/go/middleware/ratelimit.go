package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/collabridge/rapport-tracker/platform/go/problem"
)

const (
	limiterGCAbove = 1000
	limiterIdleTTL = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP with a token bucket refilled
// at rpm requests per minute.
type RateLimiter struct {
	rpm     int
	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

// NewRateLimiter builds a limiter; rpm <= 0 falls back to 60.
func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	return &RateLimiter{rpm: rpm, clients: map[string]*clientLimiter{}, now: time.Now}
}

// Handler rejects requests over budget with 429 and a Retry-After header.
func (m *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.allow(clientIP(r)) {
			retryAfter := int((time.Minute / time.Duration(m.rpm)).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			problem.Write(w, problem.New(http.StatusTooManyRequests, "rate-limited", "Too Many Requests", "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimiter) allow(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	client, ok := m.clients[ip]
	if !ok {
		client = &clientLimiter{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.rpm)), m.rpm),
		}
		m.clients[ip] = client
	}
	client.lastSeen = now
	m.gcLocked(now)

	return client.limiter.AllowN(now, 1)
}

func (m *RateLimiter) gcLocked(now time.Time) {
	if len(m.clients) < limiterGCAbove {
		return
	}

	cutoff := now.Add(-limiterIdleTTL)
	for ip, client := range m.clients {
		if client.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}
}

// clientIP keys on the connection peer only. Forwarding headers are client
// controlled; deployments behind a trusted proxy rewrite RemoteAddr first.
func clientIP(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
		return host
	}
	return remote
}
