package common

import (
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// WeightUsage is the request weight the exchange reports as spent in the
// current window.
type WeightUsage struct {
	Used    int       `json:"used"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// Ratio is Used over Limit, 0 when no limit is known.
func (u WeightUsage) Ratio() float64 {
	if u.Limit <= 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Limit)
}

// BackoffRatio is the share of the window's weight after which requests wait
// for the next window.
const BackoffRatio = 0.9

// WeightTracker follows the used-weight header the exchange returns on every
// response. Windows are aligned to wall-clock multiples of the window length,
// matching how Binance resets its per-minute counter.
type WeightTracker struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	used    int
	resetAt time.Time
	now     func() time.Time
}

// NewWeightTracker tracks limit weight per window (2400 per minute for USDT-M futures).
func NewWeightTracker(limit int, window time.Duration) *WeightTracker {
	return &WeightTracker{limit: limit, window: window, now: time.Now}
}

// Observe records the value of an X-MBX-USED-WEIGHT-1M header. Empty or
// malformed values are ignored.
func (w *WeightTracker) Observe(header string) {
	if header == "" {
		return
	}
	used, err := strconv.Atoi(header)
	if err != nil || used < 0 {
		return
	}

	w.mu.Lock()
	now := w.now()
	w.used = used
	w.resetAt = now.Truncate(w.window).Add(w.window)
	usage := WeightUsage{Used: w.used, Limit: w.limit, ResetAt: w.resetAt}
	w.mu.Unlock()

	switch r := usage.Ratio(); {
	case r >= 0.95:
		log.WithFields(log.Fields{"used": used, "limit": w.limit}).Error("exchange request weight nearly exhausted")
	case r >= 0.8:
		log.WithFields(log.Fields{"used": used, "limit": w.limit}).Warn("exchange request weight high")
	}
}

// Usage returns the weight spent in the current window. A window that has
// already rolled over reads as unused.
func (w *WeightTracker) Usage() WeightUsage {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.now().Before(w.resetAt) {
		return WeightUsage{Limit: w.limit}
	}
	return WeightUsage{Used: w.used, Limit: w.limit, ResetAt: w.resetAt}
}

// Backoff returns how long to wait before the next request: the time left in
// the window once BackoffRatio of it is spent, otherwise zero.
func (w *WeightTracker) Backoff() time.Duration {
	u := w.Usage()
	if u.Ratio() < BackoffRatio {
		return 0
	}
	return u.ResetAt.Sub(w.now())
}
