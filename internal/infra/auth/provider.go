// Package auth obtains and caches the bearer credential used by the private
// presence endpoints.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotwatch/internal/domain/fault"
)

// Credential is a bearer token and its expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	ClientID  string // Echoed by the token server, empty when unknown
}

// Expired reports whether the credential is expired at now.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Strategy obtains a fresh credential.
type Strategy interface {
	Name() string
	Refresh(ctx context.Context) (*Credential, error)
}

// Prober checks whether a credential is accepted by the API.
type Prober interface {
	Validate(ctx context.Context, cred *Credential) bool
}

// Provider caches the credential produced by a Strategy. It is safe for use
// by several monitors at once.
type Provider struct {
	strategy   Strategy
	prober     Prober
	retries    int
	retryDelay time.Duration
	now        func() time.Time

	mu          sync.Mutex
	cred        *Credential
	invalidated bool
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithRetries sets the refresh attempt count and the delay between attempts.
func WithRetries(n int, delay time.Duration) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.retries = n
		}
		p.retryDelay = delay
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) {
		p.now = now
	}
}

// NewProvider creates a provider for strategy.
func NewProvider(strategy Strategy, prober Prober, opts ...ProviderOption) *Provider {
	p := &Provider{
		strategy:   strategy,
		prober:     prober,
		retries:    3,
		retryDelay: 5 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Method returns the name of the active strategy.
func (p *Provider) Method() string {
	return p.strategy.Name()
}

// AccessToken returns a credential that should be valid now.
//
// The cached credential is reused while it is unexpired and passes the probe.
// Otherwise the strategy is asked for a new one up to the configured number
// of times. When every attempt fails the last credential ever obtained is
// returned anyway; only a provider that never obtained one fails.
func (p *Provider) AccessToken(ctx context.Context) (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cred != nil && !p.invalidated && !p.cred.Expired(p.now()) && p.prober.Validate(ctx, p.cred) {
		return p.snapshot(), nil
	}

	var lastErr error
	for attempt := 1; attempt <= p.retries; attempt++ {
		cred, err := p.strategy.Refresh(ctx)
		if err == nil {
			p.cred = cred
			p.invalidated = false
			if p.prober.Validate(ctx, cred) {
				zlog.Debug().Msgf("Access token refreshed via %s, expires at %s", p.strategy.Name(), cred.ExpiresAt.Format(time.RFC3339))
				return p.snapshot(), nil
			}
			lastErr = errors.Newf("token from %s strategy failed validation", p.strategy.Name())
		} else {
			lastErr = err
		}
		zlog.Warn().Err(lastErr).Msgf("Token refresh attempt %d/%d failed", attempt, p.retries)

		if attempt < p.retries {
			if err := sleep(ctx, p.retryDelay); err != nil {
				return nil, errors.Wrap(err, "token refresh interrupted")
			}
		}
	}

	if p.cred != nil {
		zlog.Warn().Msgf("Using possibly invalid access token after %d failed refresh attempts", p.retries)
		return p.snapshot(), nil
	}
	return nil, errors.Mark(errors.Wrap(lastErr, "failed to obtain access token"), fault.ErrAuth)
}

// Invalidate forces the next AccessToken call to refresh. The current
// credential is kept as the stale fallback.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated = true
}

func (p *Provider) snapshot() *Credential {
	c := *p.cred
	return &c
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
