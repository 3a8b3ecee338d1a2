package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server/metrics"
)

// IPRateLimiter is a token bucket per client address. It sits in front of
// every route and only stops floods; per-user chat quotas are enforced by
// the pipeline.
type IPRateLimiter struct {
	every time.Duration
	burst int
	m     *metrics.Metrics

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter allows one request per every with bursts of burst.
// m may be nil.
func NewIPRateLimiter(every time.Duration, burst int, m *metrics.Metrics) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		every:    every,
		burst:    burst,
		m:        m,
		visitors: make(map[string]*visitor),
	}
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup forgets addresses not seen for idle.
func (l *IPRateLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-idle)
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
			removed++
		}
	}
	return removed
}

// Handler rejects requests over the limit with a rate_limit_error.
func (l *IPRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := l.get(clientIP(r))
		if !limiter.Allow() {
			if l.m != nil {
				l.m.RateLimitHits.WithLabelValues("ip").Inc()
			}
			retry := int(l.every.Seconds())
			if retry < 1 {
				retry = 1
			}
			errors.WriteError(w, errors.NewRateLimitError(GetRequestID(r.Context()), retry))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
