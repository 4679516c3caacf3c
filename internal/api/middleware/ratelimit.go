package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

type visitorTable struct {
	mu       sync.Mutex
	visitors map[string]*limiterEntry
}

func (t *visitorTable) allow(ip string, rps float64, burst int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	le, ok := t.visitors[ip]
	if !ok {
		le = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		t.visitors[ip] = le
	}
	le.last = time.Now()
	return le.limiter.Allow()
}

func (t *visitorTable) gc(age time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range t.visitors {
		if time.Since(v.last) > age {
			delete(t.visitors, k)
		}
	}
}

func getIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit applies a simple IP-based token bucket limiter.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	table := &visitorTable{visitors: map[string]*limiterEntry{}}
	go func() {
		for range time.Tick(5 * time.Minute) {
			table.gc(10 * time.Minute)
		}
	}()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !table.allow(getIP(r), rps, burst) {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
