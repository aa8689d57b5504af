package web

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/JonMunkholm/issueimport/internal/importer"
	"github.com/JonMunkholm/issueimport/internal/web/middleware"
)

// rateLimiter allows each client IP rate requests per window. A client's
// window starts with its first request.
type rateLimiter struct {
	rate   int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*client

	done chan struct{}
	once sync.Once
}

type client struct {
	used  int
	reset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		rate:    rate,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*client),
		done:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// sweep drops clients whose window ended, once per window until stopped.
func (rl *rateLimiter) sweep() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}
		now := rl.now()
		rl.mu.Lock()
		for ip, c := range rl.clients {
			if now.After(c.reset) {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

// take records a request from ip. It reports whether the request may
// proceed, how many remain in the window and when the window resets.
func (rl *rateLimiter) take(ip string) (ok bool, remaining int, reset time.Time) {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c := rl.clients[ip]
	if c == nil || !now.Before(c.reset) {
		c = &client{reset: now.Add(rl.window)}
		rl.clients[ip] = c
	}
	if c.used >= rl.rate {
		return false, 0, c.reset
	}
	c.used++
	return true, rl.rate - c.used, c.reset
}

func (rl *rateLimiter) allow(ip string) bool {
	ok, _, _ := rl.take(ip)
	return ok
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, remaining, reset := rl.take(middleware.ClientIP(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.rate))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			wait := int(reset.Sub(rl.now()).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(wait))
			respondErrorJSON(w, importer.UserMessage{
				Message: "Too many requests",
				Action:  "Wait a minute and try again",
				Code:    "RATE001",
			}, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
