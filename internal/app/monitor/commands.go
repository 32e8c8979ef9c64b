package monitor

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.status
	s.Notifications = make(map[string]bool, len(m.status.Notifications))
	for k, v := range m.status.Notifications {
		s.Notifications[k] = v
	}
	return s
}

// ToggleNotification flips a notification kind and returns its new value.
func (m *Monitor) ToggleNotification(ctx context.Context, kind string) (bool, error) {
	var (
		enabled bool
		err     error
	)
	execErr := m.exec(ctx, func() {
		enabled, err = m.notifier.Toggle(kind)
		if err != nil {
			return
		}
		zlog.Info().Msgf("monitor[%s]: %s notifications %s", m.config.UserURI, kind, onOff(enabled))
		m.mu.Lock()
		m.status.Notifications = m.notifier.Flags()
		m.mu.Unlock()
	})
	if execErr != nil {
		return false, execErr
	}
	return enabled, err
}

// AdjustInactivity changes the inactivity threshold by delta and returns
// the new value. A change that would make it non-positive is ignored.
func (m *Monitor) AdjustInactivity(ctx context.Context, delta time.Duration) (time.Duration, error) {
	var inactivity time.Duration
	err := m.exec(ctx, func() {
		inactivity = m.tracker.Settings().Inactivity
		if inactivity+delta > 0 {
			inactivity += delta
			m.tracker.SetInactivity(inactivity)
		}
		zlog.Info().Msgf("monitor[%s]: inactivity timer is %s", m.config.UserURI, inactivity)
		m.mu.Lock()
		m.status.Inactivity = inactivity
		m.mu.Unlock()
	})
	return inactivity, err
}

// ReloadWatchlist replaces the watchlist.
func (m *Monitor) ReloadWatchlist(ctx context.Context, matcher Matcher) error {
	return m.exec(ctx, func() {
		m.tracker.SetMatcher(matcher)
		zlog.Info().Msgf("monitor[%s]: watchlist reloaded", m.config.UserURI)
	})
}

// exec runs fn on the polling goroutine between polls.
func (m *Monitor) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	cmd := func() {
		fn()
		close(done)
	}

	select {
	case m.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
