package admission

import (
	"sync"
	"time"
)

// RateWindow admits at most limit requests per fixed window. The window is
// reset lazily by the first request observed after it has elapsed.
type RateWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	count  int
	start  time.Time
}

func NewRateWindow(limit int, window time.Duration, now func() time.Time) *RateWindow {
	if now == nil {
		now = time.Now
	}
	return &RateWindow{
		limit:  limit,
		window: window,
		now:    now,
		start:  now(),
	}
}

// Allow consumes one request from the budget and reports whether it fit.
func (w *RateWindow) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if now.Sub(w.start) >= w.window {
		w.count = 0
		w.start = now
	}
	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}

// Limit is the per-window request budget.
func (w *RateWindow) Limit() int {
	return w.limit
}
