package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/spotwatch/internal/domain/fault"
)

type fakeStrategy struct {
	mu    sync.Mutex
	calls int
	next  func(n int) (*Credential, error)
}

func (s *fakeStrategy) Name() string { return "fake" }

func (s *fakeStrategy) Refresh(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.next(s.calls)
}

func (s *fakeStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeProber struct {
	valid func(cred *Credential) bool
}

func (p *fakeProber) Validate(ctx context.Context, cred *Credential) bool {
	return p.valid(cred)
}

func alwaysValid() *fakeProber {
	return &fakeProber{valid: func(*Credential) bool { return true }}
}

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func tokenN(n int) (*Credential, error) {
	return &Credential{Token: "token-" + string(rune('0'+n)), ExpiresAt: baseTime.Add(time.Hour), ClientID: "cid"}, nil
}

func TestProvider_RefreshesOnceWhenEmpty(t *testing.T) {
	strategy := &fakeStrategy{next: tokenN}
	p := NewProvider(strategy, alwaysValid(), WithRetries(3, 0), WithClock(func() time.Time { return baseTime }))

	cred, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", cred.Token)
	assert.Equal(t, 1, strategy.Calls())
}

func TestProvider_ReturnsCachedCredential(t *testing.T) {
	strategy := &fakeStrategy{next: tokenN}
	p := NewProvider(strategy, alwaysValid(), WithRetries(3, 0), WithClock(func() time.Time { return baseTime }))

	_, err := p.AccessToken(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		cred, err := p.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "token-1", cred.Token)
	}
	assert.Equal(t, 1, strategy.Calls())
}

func TestProvider_RefreshesWhenExpired(t *testing.T) {
	now := baseTime
	strategy := &fakeStrategy{next: tokenN}
	p := NewProvider(strategy, alwaysValid(), WithRetries(3, 0), WithClock(func() time.Time { return now }))

	_, err := p.AccessToken(context.Background())
	require.NoError(t, err)

	now = baseTime.Add(time.Hour)
	cred, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", cred.Token)
	assert.Equal(t, 2, strategy.Calls())
}

func TestProvider_RefreshesWhenProbeFails(t *testing.T) {
	strategy := &fakeStrategy{next: tokenN}
	prober := &fakeProber{valid: func(c *Credential) bool { return c.Token != "token-1" }}
	p := NewProvider(strategy, prober, WithRetries(3, 0), WithClock(func() time.Time { return baseTime }))

	cred, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", cred.Token)
	assert.Equal(t, 2, strategy.Calls())
}

func TestProvider_ReturnsStaleCredential(t *testing.T) {
	strategy := &fakeStrategy{next: tokenN}
	valid := true
	prober := &fakeProber{valid: func(*Credential) bool { return valid }}
	p := NewProvider(strategy, prober, WithRetries(3, 0), WithClock(func() time.Time { return baseTime }))

	_, err := p.AccessToken(context.Background())
	require.NoError(t, err)

	valid = false
	cred, err := p.AccessToken(context.Background())
	require.NoError(t, err, "last obtained credential is returned")
	assert.Equal(t, "token-4", cred.Token)
	assert.Equal(t, 4, strategy.Calls())
}

func TestProvider_StaleAfterStrategyErrors(t *testing.T) {
	strategy := &fakeStrategy{next: func(n int) (*Credential, error) {
		if n == 1 {
			return tokenN(n)
		}
		return nil, errors.New("boom")
	}}
	p := NewProvider(strategy, alwaysValid(), WithRetries(2, 0), WithClock(func() time.Time { return baseTime }))

	_, err := p.AccessToken(context.Background())
	require.NoError(t, err)

	p.Invalidate()
	cred, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", cred.Token)
	assert.Equal(t, 3, strategy.Calls())
}

func TestProvider_NeverObtained(t *testing.T) {
	strategy := &fakeStrategy{next: func(int) (*Credential, error) {
		return nil, errors.New("connection refused")
	}}
	p := NewProvider(strategy, alwaysValid(), WithRetries(3, 0))

	_, err := p.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrAuth))
	assert.Equal(t, fault.ClassAuth, fault.Classify(err))
	assert.Equal(t, 3, strategy.Calls())
}

func TestProvider_Invalidate(t *testing.T) {
	strategy := &fakeStrategy{next: tokenN}
	p := NewProvider(strategy, alwaysValid(), WithRetries(3, 0), WithClock(func() time.Time { return baseTime }))

	_, err := p.AccessToken(context.Background())
	require.NoError(t, err)

	p.Invalidate()
	cred, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", cred.Token)

	cred, err = p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", cred.Token)
	assert.Equal(t, 2, strategy.Calls())
}

func TestProvider_CancelledDuringRetryDelay(t *testing.T) {
	strategy := &fakeStrategy{next: func(int) (*Credential, error) {
		return nil, errors.New("boom")
	}}
	p := NewProvider(strategy, alwaysValid(), WithRetries(3, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.AccessToken(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, strategy.Calls())
}

func TestProvider_ReturnsCopy(t *testing.T) {
	p := NewProvider(&fakeStrategy{next: tokenN}, alwaysValid(), WithClock(func() time.Time { return baseTime }))
	cred, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	cred.Token = "mutated"

	again, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", again.Token)
}
