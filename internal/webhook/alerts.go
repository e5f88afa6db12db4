package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AlertTracker escalates repeated webhook rejections from one client
// identity into an operator-visible alert. One alert fires per identity
// per window; the counter resets when the window rolls over.
type AlertTracker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	logger    *slog.Logger
	metrics   *Metrics
	counts    map[string]*rejectionWindow
}

type rejectionWindow struct {
	count       int
	windowStart time.Time
	alerted     bool
}

// NewAlertTracker creates a tracker that alerts after threshold rejections
// from one identity within window.
func NewAlertTracker(threshold int, window time.Duration, logger *slog.Logger, metrics *Metrics) *AlertTracker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &AlertTracker{
		threshold: threshold,
		window:    window,
		logger:    logger,
		metrics:   metrics,
		counts:    make(map[string]*rejectionWindow),
	}
}

// Record notes one rejection and fires the alert when the threshold is
// crossed.
func (t *AlertTracker) Record(ctx context.Context, identity string, reason RejectReason) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	w, ok := t.counts[identity]
	if !ok || now.Sub(w.windowStart) >= t.window {
		w = &rejectionWindow{windowStart: now}
		t.counts[identity] = w
	}

	w.count++
	if w.count < t.threshold || w.alerted {
		return
	}
	w.alerted = true

	if t.logger != nil {
		t.logger.ErrorContext(ctx, "repeated webhook rejections from one client",
			"identity", identity,
			"rejections", w.count,
			"window", t.window.String(),
			"last_reason", string(reason),
			"log_type", "audit",
			"security", true,
		)
	}
	if t.metrics != nil {
		t.metrics.Alerts.Inc()
	}
}
