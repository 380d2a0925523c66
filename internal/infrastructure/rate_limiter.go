package infrastructure

import (
	"sync"
	"time"
)

// RateLimiter implements per-sender windowed admission control. Each sender
// gets an independent window of length `window` admitting up to `cap` messages;
// a sender's first message after the window elapses starts a fresh window.
// State is never persisted, a restart simply resets all limits.
type RateLimiter struct {
	mu          sync.Mutex
	windows     map[string]*senderWindow
	window      time.Duration
	cap         int
	cleanupTick time.Duration

	now func() time.Time // injectable for tests
}

type senderWindow struct {
	start time.Time
	count int
}

// NewRateLimiter creates a limiter admitting at most cap messages per sender
// within each window.
func NewRateLimiter(window time.Duration, cap int) *RateLimiter {
	rl := &RateLimiter{
		windows:     make(map[string]*senderWindow),
		window:      window,
		cap:         cap,
		cleanupTick: 5 * time.Minute,
		now:         time.Now,
	}

	go rl.cleanup()

	return rl
}

// Admit reports whether a message from sender may be processed now.
// Rejected messages are dropped, not queued.
func (rl *RateLimiter) Admit(sender string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.windows[sender]
	if !exists || now.Sub(w.start) >= rl.window {
		rl.windows[sender] = &senderWindow{start: now, count: 1}
		return true
	}

	if w.count >= rl.cap {
		return false
	}
	w.count++
	return true
}

// cleanup drops windows that fully elapsed, so one-off senders don't
// accumulate in the map forever.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupTick)
	for range ticker.C {
		rl.mu.Lock()
		now := rl.now()
		for sender, w := range rl.windows {
			if now.Sub(w.start) >= rl.window {
				delete(rl.windows, sender)
			}
		}
		rl.mu.Unlock()
	}
}

// Stats returns limiter counters for the dashboard.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"active_senders": len(rl.windows),
		"window_seconds": rl.window.Seconds(),
		"cap":            rl.cap,
	}
}
