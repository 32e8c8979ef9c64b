package auth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotwatch/internal/domain/fault"
	"github.com/osa030/spotwatch/internal/infra/wire"
)

// DefaultClientTokenTTL caps how long a client token is reused.
const DefaultClientTokenTTL = 14 * 24 * time.Hour

const protobufContentType = "application/x-protobuf"

// ClientTokenSource fetches and caches the client token that accompanies
// device-login requests.
type ClientTokenSource struct {
	client    *http.Client
	url       string
	fp        DeviceFingerprint
	ttl       time.Duration
	userAgent string
	now       func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClientTokenSource creates a client token source. A zero ttl selects
// DefaultClientTokenTTL.
func NewClientTokenSource(client *http.Client, url string, fp DeviceFingerprint, ttl time.Duration, userAgent string) *ClientTokenSource {
	if ttl <= 0 {
		ttl = DefaultClientTokenTTL
	}
	return &ClientTokenSource{
		client:    client,
		url:       url,
		fp:        fp,
		ttl:       ttl,
		userAgent: userAgent,
		now:       time.Now,
	}
}

// Token returns the cached client token, fetching a new one when it is
// missing or expired.
func (s *ClientTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt) {
		return s.token, nil
	}

	token, ttl, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiresAt = s.now().Add(ttl)
	zlog.Debug().Msgf("Client token refreshed, valid for %s", ttl)
	return token, nil
}

// Invalidate drops the cached client token.
func (s *ClientTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

type clientTokenResponse struct {
	Granted struct {
		Token        string `mapstructure:"1" field:"token" validate:"required"`
		ExpiresAfter uint64 `mapstructure:"2"`
	} `mapstructure:"2"`
}

func (s *ClientTokenSource) fetch(ctx context.Context) (string, time.Duration, error) {
	body := wire.Encode(wire.Message{
		1: uint64(1),
		2: wire.Message{
			1: s.fp.ClientVersion,
			2: s.fp.ClientID,
			3: s.fp.Platform,
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to create client token request")
	}
	req.Header.Set("Content-Type", protobufContentType)
	req.Header.Set("Accept", protobufContentType)
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, errors.Mark(errors.Wrap(err, "client token request failed"), fault.ErrTransient)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to read client token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fault.StatusError("client token", resp.StatusCode, "")
	}

	msg, err := wire.ParseMessage(b)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to parse client token response")
	}
	var r clientTokenResponse
	if err := wire.Decode(msg, &r); err != nil {
		return "", 0, errors.Wrap(err, "unexpected client token response")
	}

	ttl := s.ttl
	if server := time.Duration(r.Granted.ExpiresAfter) * time.Second; server > 0 && server < ttl {
		ttl = server
	}
	return r.Granted.Token, ttl, nil
}
