package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotwatch/internal/domain/activity"
	"github.com/osa030/spotwatch/internal/domain/fault"
	"github.com/osa030/spotwatch/internal/infra/auth"
)

// PresenceClient fetches friend activity and metadata.
type PresenceClient interface {
	FriendActivity(ctx context.Context, cred *auth.Credential) ([]activity.FriendSnapshot, error)
	GetTrack(ctx context.Context, cred *auth.Credential, trackID string) (*activity.TrackInfo, error)
	GetPlaylist(ctx context.Context, cred *auth.Credential, playlistID string) (*activity.PlaylistInfo, error)
	UserExists(ctx context.Context, cred *auth.Credential, userURIID string) (bool, error)
}

// TokenSource provides the access token.
type TokenSource interface {
	AccessToken(ctx context.Context) (*auth.Credential, error)
	Invalidate()
}

// Notifier delivers events to the user.
type Notifier interface {
	Notify(ctx context.Context, events []activity.Event)
	Toggle(kind string) (bool, error)
	Flags() map[string]bool
}

// Recorder persists listened tracks.
type Recorder interface {
	Record(ctx context.Context, play activity.Play) error
}

// Config holds the monitor configuration.
type Config struct {
	UserURI  string
	Settings Settings

	DisappearedInterval  time.Duration // Poll interval while the friend is missing
	ErrorInterval        time.Duration // Retry interval after an unclassified error
	NetworkRetryInterval time.Duration // Retry interval after a network error
	WatchdogTimeout      time.Duration // Upper bound for one whole poll

	ErrorLimit int           // Errors of one class before they are reported
	ErrorSpan  time.Duration // Quiet time after which an error window resets
}

// DefaultConfig returns a config with default intervals for userURI.
func DefaultConfig(userURI string) Config {
	return Config{
		UserURI:              userURI,
		Settings:             DefaultSettings(),
		DisappearedInterval:  120 * time.Second,
		ErrorInterval:        180 * time.Second,
		NetworkRetryInterval: 15 * time.Second,
		WatchdogTimeout:      60 * time.Second,
		ErrorLimit:           5,
		ErrorSpan:            240 * time.Second,
	}
}

// Status is a point-in-time view of a monitor.
type Status struct {
	UserURI       string
	Username      string
	State         activity.SessionState
	Inactivity    time.Duration
	Notifications map[string]bool
	LastPollAt    time.Time
	LastError     string
}

// Monitor polls one friend and turns the results into events.
type Monitor struct {
	mu sync.RWMutex

	config   Config
	client   PresenceClient
	tokens   TokenSource
	notifier Notifier
	recorder Recorder
	tracker  *Tracker
	now      func() time.Time

	// Error suppression
	serverErrors  *ErrorWindow
	networkErrors *ErrorWindow
	authNotified  bool
	errorNotified bool

	status   Status
	commands chan func()
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithRecorder sets the history recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithMatcher sets the initial watchlist.
func WithMatcher(matcher Matcher) Option {
	return func(m *Monitor) { m.tracker.SetMatcher(matcher) }
}

// New creates a monitor.
func New(cfg Config, client PresenceClient, tokens TokenSource, notifier Notifier, opts ...Option) *Monitor {
	m := &Monitor{
		config:        cfg,
		client:        client,
		tokens:        tokens,
		notifier:      notifier,
		tracker:       NewTracker(cfg.UserURI, cfg.Settings, nil),
		now:           time.Now,
		serverErrors:  NewErrorWindow(cfg.ErrorLimit, cfg.ErrorSpan),
		networkErrors: NewErrorWindow(cfg.ErrorLimit, cfg.ErrorSpan),
		commands:      make(chan func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.status = Status{
		UserURI:       cfg.UserURI,
		Inactivity:    cfg.Settings.Inactivity,
		Notifications: notifier.Flags(),
	}
	return m
}

// UserURI returns the monitored user ID.
func (m *Monitor) UserURI() string {
	return m.config.UserURI
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	zlog.Info().Msgf("monitor[%s]: started (check every %s, inactivity %s)",
		m.config.UserURI, m.config.Settings.CheckInterval, m.config.Settings.Inactivity)

	for {
		next := m.poll(ctx)
		if err := m.wait(ctx, next); err != nil {
			zlog.Info().Msgf("monitor[%s]: stopped", m.config.UserURI)
			return nil
		}
	}
}

// wait sleeps for d, running commands as they arrive.
func (m *Monitor) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-m.commands:
			cmd()
		case <-timer.C:
			return nil
		}
	}
}

// poll runs one iteration and returns the delay before the next one.
func (m *Monitor) poll(parent context.Context) time.Duration {
	ctx, cancel := context.WithTimeout(parent, m.config.WatchdogTimeout)
	defer cancel()

	cred, err := m.tokens.AccessToken(ctx)
	if err != nil {
		return m.handleError(parent, errors.Wrap(err, "failed to get access token"))
	}

	friends, err := m.client.FriendActivity(ctx, cred)
	if err != nil {
		return m.handleError(parent, err)
	}

	obs := Observation{Now: m.now()}
	if snap, ok := activity.FindFriend(friends, m.config.UserURI); ok {
		obs.Found = true
		obs.Snapshot = snap
		if m.tracker.NeedsDetails(snap) {
			if err := m.fetchDetails(ctx, cred, &obs); err != nil {
				return m.handleError(parent, err)
			}
		}
	}

	events := m.tracker.Observe(obs)
	for i := range events {
		if events[i].Type == activity.EventDisappeared {
			m.checkAccount(ctx, cred, &events[i])
		}
	}

	m.recovered(obs.Now)
	m.record(parent, events)
	m.notify(parent, events)
	m.updateStatus(obs.Now, "")

	if !obs.Found {
		return m.config.DisappearedInterval
	}
	return m.config.Settings.CheckInterval
}

func (m *Monitor) fetchDetails(ctx context.Context, cred *auth.Credential, obs *Observation) error {
	track, err := m.client.GetTrack(ctx, cred, obs.Snapshot.TrackURI)
	if err != nil {
		return errors.Wrapf(err, "failed to get track %s", obs.Snapshot.TrackURI)
	}
	obs.Track = track

	if !obs.Snapshot.IsPlaylistContext() {
		return nil
	}
	playlist, err := m.client.GetPlaylist(ctx, cred, obs.Snapshot.PlaylistURI)
	if err != nil {
		zlog.Warn().Msgf("monitor[%s]: failed to get playlist %s: %v", m.config.UserURI, obs.Snapshot.PlaylistURI, err)
		return nil
	}
	obs.Playlist = playlist
	return nil
}

func (m *Monitor) checkAccount(ctx context.Context, cred *auth.Credential, ev *activity.Event) {
	exists, err := m.client.UserExists(ctx, cred, m.config.UserURI)
	if err != nil {
		zlog.Warn().Msgf("monitor[%s]: failed to check account: %v", m.config.UserURI, err)
		return
	}
	ev.AccountRemoved = !exists
}

// recovered re-arms the one-shot error notifications after a clean poll.
func (m *Monitor) recovered(now time.Time) {
	m.authNotified = false
	m.errorNotified = false
	m.serverErrors.Expire(now)
	m.networkErrors.Expire(now)
}

// handleError logs err by class and returns the retry delay.
func (m *Monitor) handleError(ctx context.Context, err error) time.Duration {
	if ctx.Err() != nil {
		return 0
	}
	now := m.now()
	user := m.config.UserURI
	class := fault.Classify(err)
	m.updateStatus(now, err.Error())

	switch class {
	case fault.ClassAuth:
		m.tokens.Invalidate()
		zlog.Warn().Msgf("monitor[%s]: authentication failed, retrying in %s: %v", user, m.config.Settings.CheckInterval, err)
		if !m.authNotified {
			m.authNotified = true
			m.notify(ctx, []activity.Event{m.errorEvent(activity.EventAuthError, now, err, class, 1)})
		}
		return m.config.Settings.CheckInterval

	case fault.ClassServer:
		m.suppress(ctx, m.serverErrors, now, err, class)
		return m.config.Settings.CheckInterval

	case fault.ClassTransient:
		m.suppress(ctx, m.networkErrors, now, err, class)
		return m.config.NetworkRetryInterval

	case fault.ClassDecode:
		zlog.Error().Msgf("monitor[%s]: malformed response: %v", user, err)
		return m.config.Settings.CheckInterval

	default:
		zlog.Error().Msgf("monitor[%s]: retrying in %s, error: %v", user, m.config.ErrorInterval, err)
		if !m.errorNotified {
			m.errorNotified = true
			m.notify(ctx, []activity.Event{m.errorEvent(activity.EventError, now, err, class, 1)})
		}
		return m.config.ErrorInterval
	}
}

func (m *Monitor) suppress(ctx context.Context, w *ErrorWindow, now time.Time, err error, class fault.Class) {
	report, count := w.Record(now)
	if !report {
		zlog.Debug().Msgf("monitor[%s]: %s error %d/%d suppressed: %v", m.config.UserURI, class, count, w.Limit, err)
		return
	}
	zlog.Error().Msgf("monitor[%s]: %d %s errors within %s, last: %v", m.config.UserURI, count, class, w.Span, err)
	m.notify(ctx, []activity.Event{m.errorEvent(activity.EventPersistentError, now, err, class, count)})
}

func (m *Monitor) errorEvent(typ activity.EventType, now time.Time, err error, class fault.Class, count int) activity.Event {
	return activity.Event{
		Type:       typ,
		UserURI:    m.config.UserURI,
		Username:   m.tracker.Username(),
		Time:       now,
		Err:        err,
		ErrorClass: class.String(),
		ErrorCount: count,
	}
}

func (m *Monitor) record(ctx context.Context, events []activity.Event) {
	if m.recorder == nil {
		return
	}
	for _, ev := range events {
		if ev.Type != activity.EventTrackChanged || ev.Snapshot == nil {
			continue
		}
		if err := m.recorder.Record(ctx, playFromEvent(ev)); err != nil {
			zlog.Warn().Msgf("monitor[%s]: failed to record play: %v", m.config.UserURI, err)
		}
	}
}

func (m *Monitor) notify(ctx context.Context, events []activity.Event) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		zlog.Debug().Msgf("monitor[%s]: event %s", m.config.UserURI, ev.Type)
	}
	m.notifier.Notify(ctx, events)
}

func (m *Monitor) updateStatus(now time.Time, lastErr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.Username = m.tracker.Username()
	m.status.State = m.tracker.State()
	m.status.Inactivity = m.tracker.Settings().Inactivity
	m.status.Notifications = m.notifier.Flags()
	m.status.LastPollAt = now
	m.status.LastError = lastErr
}

func playFromEvent(ev activity.Event) activity.Play {
	snap := ev.Snapshot
	play := activity.Play{
		UserURI:      ev.UserURI,
		Date:         ev.Time,
		Artist:       snap.Artist,
		Track:        snap.Track,
		Album:        snap.Album,
		LastActivity: snap.LastActivity(),
	}
	if snap.IsPlaylistContext() {
		play.Playlist = snap.Playlist
	}
	return play
}
