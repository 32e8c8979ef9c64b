package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotwatch/internal/app/monitor"
	"github.com/osa030/spotwatch/internal/app/notification"
	"github.com/osa030/spotwatch/internal/domain/fault"
	"github.com/osa030/spotwatch/internal/infra/auth"
	"github.com/osa030/spotwatch/internal/infra/config"
	"github.com/osa030/spotwatch/internal/infra/history"
	"github.com/osa030/spotwatch/internal/infra/httpx"
	"github.com/osa030/spotwatch/internal/infra/spotify"
	"github.com/osa030/spotwatch/internal/infra/watchlist"
)

// services holds the collaborators shared by every monitor.
type services struct {
	tokens     *auth.Provider
	presence   *spotify.Client
	manager    *notification.Manager
	sqlite     *history.SQLiteRecorder
	recorders  []history.Recorder
	watchers   []*watcher
	watchlists map[string]string // user URI ID -> watchlist path
}

// watcher feeds one friend's watchlist file to its monitor.
type watcher struct {
	monitor *monitor.Monitor
	w       *watchlist.Watcher
}

func (w *watcher) run(ctx context.Context) error {
	return w.w.Run(ctx, func(list *watchlist.List) {
		if err := w.monitor.ReloadWatchlist(ctx, list); err != nil && ctx.Err() == nil {
			zlog.Warn().Msgf("monitor[%s]: failed to apply watchlist: %v", w.monitor.UserURI(), err)
		}
	})
}

func newServices(cfg *config.Config) (*services, error) {
	opts := httpx.Options{
		Timeout:      time.Duration(cfg.Monitor.RequestTimeoutSec) * time.Second,
		RetryMax:     cfg.HTTP.RetryMax,
		RetryWaitMin: time.Duration(cfg.HTTP.RetryWaitMinSec) * time.Second,
		RetryWaitMax: time.Duration(cfg.HTTP.RetryWaitMaxSec) * time.Second,
	}
	client := httpx.NewClient(opts)

	tokens, err := newProvider(cfg, client)
	if err != nil {
		return nil, err
	}

	d := &services{
		tokens: tokens,
		presence: spotify.New(client, spotify.Config{
			BuddylistURL: cfg.Endpoints.Buddylist,
			APIBaseURL:   cfg.Endpoints.API,
			UserAgent:    cfg.Auth.UserAgent,
		}),
		manager:    notification.NewManager(time.Duration(cfg.Notifications.TimeoutSec) * time.Second),
		watchlists: make(map[string]string),
	}

	d.manager.Subscribe(notification.LogSink{})
	if cfg.Notifications.Webhook.URL != "" {
		hookOpts := opts
		hookOpts.Timeout = time.Duration(cfg.Notifications.Webhook.TimeoutSec) * time.Second
		d.manager.Subscribe(notification.NewWebhookSink(httpx.NewRetryable(hookOpts), cfg.Notifications.Webhook.URL, cfg.Notifications.Webhook.Headers))
		zlog.Info().Msg("Webhook notifications enabled")
	}

	if cfg.History.SQLitePath != "" {
		d.sqlite, err = history.NewSQLiteRecorder(cfg.History.SQLitePath)
		if err != nil {
			d.Close()
			return nil, err
		}
	}

	return d, nil
}

// newProvider builds the token provider for the configured method.
func newProvider(cfg *config.Config, client *http.Client) (*auth.Provider, error) {
	prober := auth.NewMeProber(client, cfg.Endpoints.API, cfg.Auth.UserAgent)

	var strategy auth.Strategy
	switch cfg.Auth.Method {
	case config.MethodClient:
		identity, err := auth.LoadDeviceIdentity(cfg.Auth.LoginRequestFile)
		if err != nil {
			return nil, err
		}
		fingerprint, err := auth.LoadDeviceFingerprint(cfg.Auth.ClientTokenRequestFile)
		if err != nil {
			return nil, err
		}
		ua := cfg.Auth.UserAgent
		if ua == "" {
			ua = auth.RandomUserAgent()
		}
		ttl := time.Duration(cfg.Auth.ClientTokenTTLSec) * time.Second
		tokens := auth.NewClientTokenSource(client, cfg.Endpoints.ClientToken, fingerprint, ttl, ua)
		strategy = auth.NewClientStrategy(client, cfg.Endpoints.Login5, identity, fingerprint, tokens, ua)
	default:
		ciphers, err := cfg.CipherOverrides()
		if err != nil {
			return nil, err
		}
		strategy, err = auth.NewCookieStrategy(client, prober, auth.CookieConfig{
			SPDC:           cfg.Auth.SPDC,
			TokenURL:       cfg.Endpoints.Token,
			ServerTimeURL:  cfg.Endpoints.ServerTime,
			ServerTimeMode: cfg.Auth.ServerTimeMode,
			UserAgent:      cfg.Auth.UserAgent,
			TOTPVersion:    cfg.Auth.TOTPVersion,
			Ciphers:        ciphers,
		})
		if err != nil {
			return nil, err
		}
	}

	zlog.Info().Msgf("Using the %s token method", strategy.Name())
	return auth.NewProvider(strategy, prober,
		auth.WithRetries(cfg.Auth.TokenRetries, time.Duration(cfg.Auth.TokenRetryDelaySec)*time.Second),
	), nil
}

// buildMonitors creates one monitor per configured friend.
func (d *services) buildMonitors(cfg *config.Config) ([]*monitor.Monitor, error) {
	monitors := make([]*monitor.Monitor, 0, len(cfg.Friends))
	for _, f := range cfg.Friends {
		mc := cfg.MonitorFor(f.UserURIID)

		flags, err := notification.NewFlags(cfg.EnabledNotifications())
		if err != nil {
			return nil, err
		}
		composer := notification.NewComposer(mc.DisappearedInterval)
		composer.Location = cfg.Location()
		notifier := notification.NewNotifier(flags, composer, d.manager)

		var opts []monitor.Option
		if rec, err := d.recorderFor(f); err != nil {
			return nil, err
		} else if rec != nil {
			opts = append(opts, monitor.WithRecorder(rec))
		}

		if f.Watchlist != "" {
			list, err := watchlist.Load(f.Watchlist)
			if err != nil {
				return nil, errors.Mark(err, fault.ErrConfig)
			}
			zlog.Info().Msgf("monitor[%s]: %d watchlist entries from %s", f.UserURIID, list.Len(), f.Watchlist)
			opts = append(opts, monitor.WithMatcher(list))
			d.watchlists[f.UserURIID] = f.Watchlist
		}

		m := monitor.New(mc, d.presence, d.tokens, notifier, opts...)
		monitors = append(monitors, m)

		if f.Watchlist != "" {
			d.watchers = append(d.watchers, &watcher{monitor: m, w: watchlist.NewWatcher(f.Watchlist)})
		}
		zlog.Info().Msgf("monitor[%s]: notifications %s", f.UserURIID, flags)
	}
	return monitors, nil
}

func (d *services) recorderFor(f config.FriendConfig) (monitor.Recorder, error) {
	var multi history.Multi
	if f.CSVFile != "" {
		csv, err := history.NewCSVRecorder(f.CSVFile)
		if err != nil {
			return nil, err
		}
		d.recorders = append(d.recorders, csv)
		multi = append(multi, csv)
	}
	if d.sqlite != nil {
		multi = append(multi, d.sqlite)
	}
	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}

// loadWatchlist loads the configured watchlist of a friend, if any.
func (d *services) loadWatchlist(userURI string) (*watchlist.List, error) {
	path, ok := d.watchlists[userURI]
	if !ok {
		return nil, nil
	}
	return watchlist.Load(path)
}

// Close releases the history files and stops notification delivery.
func (d *services) Close() {
	d.manager.Close()
	for _, r := range d.recorders {
		if err := r.Close(); err != nil {
			zlog.Warn().Msgf("Failed to close history: %v", err)
		}
	}
	if d.sqlite != nil {
		if err := d.sqlite.Close(); err != nil {
			zlog.Warn().Msgf("Failed to close history database: %v", err)
		}
	}
}
