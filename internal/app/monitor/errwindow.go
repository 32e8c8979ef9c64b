package monitor

import "time"

// ErrorWindow suppresses a class of errors until Limit of them arrive
// within Span of each other.
type ErrorWindow struct {
	Limit int
	Span  time.Duration

	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Count       int
}

// NewErrorWindow creates a window.
func NewErrorWindow(limit int, span time.Duration) *ErrorWindow {
	return &ErrorWindow{Limit: limit, Span: span}
}

// Record counts an error at now. It reports true, with the count, once the
// limit is reached, and starts a new window.
func (w *ErrorWindow) Record(now time.Time) (bool, int) {
	w.Expire(now)
	if w.Count == 0 {
		w.FirstSeenAt = now
	}
	w.Count++
	w.LastSeenAt = now

	if w.Count < w.Limit {
		return false, w.Count
	}
	count := w.Count
	w.Reset()
	return true, count
}

// Expire resets the window if the last error is older than Span.
func (w *ErrorWindow) Expire(now time.Time) {
	if w.Count > 0 && now.Sub(w.LastSeenAt) > w.Span {
		w.Reset()
	}
}

// Reset clears the window.
func (w *ErrorWindow) Reset() {
	w.FirstSeenAt = time.Time{}
	w.LastSeenAt = time.Time{}
	w.Count = 0
}
