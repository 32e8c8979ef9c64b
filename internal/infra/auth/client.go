package auth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotwatch/internal/domain/fault"
	"github.com/osa030/spotwatch/internal/infra/wire"
)

const defaultAccessTokenTTL = 3600 * time.Second

// ClientStrategy performs the device login with a captured identity and a
// stored refresh token.
type ClientStrategy struct {
	client    *http.Client
	loginURL  string
	identity  DeviceIdentity
	clientID  string
	tokens    *ClientTokenSource
	userAgent string
	now       func() time.Time

	mu           sync.Mutex
	refreshToken string
}

// NewClientStrategy creates a client strategy.
func NewClientStrategy(client *http.Client, loginURL string, identity DeviceIdentity, fp DeviceFingerprint, tokens *ClientTokenSource, userAgent string) *ClientStrategy {
	return &ClientStrategy{
		client:       client,
		loginURL:     loginURL,
		identity:     identity,
		clientID:     fp.ClientID,
		tokens:       tokens,
		userAgent:    userAgent,
		now:          time.Now,
		refreshToken: identity.RefreshToken,
	}
}

// Name returns the strategy name.
func (s *ClientStrategy) Name() string {
	return "client"
}

// Refresh logs in with the current refresh token. A login rejected because
// of the client token is retried once with a new client token.
func (s *ClientStrategy) Refresh(ctx context.Context) (*Credential, error) {
	cred, err := s.login(ctx)
	if errors.Is(err, errClientTokenRejected) {
		zlog.Info().Msg("Client token rejected, fetching a new one")
		s.tokens.Invalidate()
		cred, err = s.login(ctx)
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

var errClientTokenRejected = errors.New("client token rejected")

type loginResponse struct {
	Ok struct {
		AccessToken  string `mapstructure:"2" field:"access_token" validate:"required"`
		RefreshToken string `mapstructure:"3"`
		ExpiresIn    uint64 `mapstructure:"4"`
	} `mapstructure:"1"`
}

// LoginRequest builds the login request body for identity and refreshToken.
func LoginRequest(identity DeviceIdentity, refreshToken string) []byte {
	var body []byte
	body = append(body, wire.EncodeNestedField(1, append(
		wire.EncodeStringField(1, identity.SystemID),
		wire.EncodeStringField(2, identity.DeviceID)...,
	))...)
	body = append(body, wire.EncodeNestedField(100, append(
		wire.EncodeStringField(1, identity.UserURIID),
		wire.EncodeStringField(2, refreshToken)...,
	))...)
	return body
}

func (s *ClientStrategy) login(ctx context.Context) (*Credential, error) {
	clientToken, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to get client token"), fault.ErrAuth)
	}

	s.mu.Lock()
	refreshToken := s.refreshToken
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, bytes.NewReader(LoginRequest(s.identity, refreshToken)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create login request")
	}
	req.Header.Set("Content-Type", protobufContentType)
	req.Header.Set("Accept", protobufContentType)
	req.Header.Set("Client-Token", clientToken)
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "login request failed"), fault.ErrTransient)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read login response")
	}
	if isClientTokenRejection(resp.StatusCode, string(b)) {
		return nil, errors.Mark(fault.StatusError("login", resp.StatusCode, string(b)), errClientTokenRejected)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.StatusError("login", resp.StatusCode, "")
	}

	msg, err := wire.ParseMessage(b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse login response")
	}
	if code, ok := msg[2]; ok {
		return nil, errors.Mark(errors.Newf("login rejected with error %v", code), fault.ErrAuth)
	}
	var r loginResponse
	if err := wire.Decode(msg, &r); err != nil {
		return nil, errors.Wrap(err, "unexpected login response")
	}

	if r.Ok.RefreshToken != "" {
		s.mu.Lock()
		s.refreshToken = r.Ok.RefreshToken
		s.mu.Unlock()
	}
	ttl := defaultAccessTokenTTL
	if r.Ok.ExpiresIn > 0 {
		ttl = time.Duration(r.Ok.ExpiresIn) * time.Second
	}
	return &Credential{
		Token:     r.Ok.AccessToken,
		ExpiresAt: s.now().Add(ttl),
		ClientID:  s.clientID,
	}, nil
}

func isClientTokenRejection(status int, body string) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	if status == http.StatusOK {
		return false
	}
	lower := strings.ToLower(body)
	if !strings.Contains(lower, "client token") && !strings.Contains(lower, "client-token") && !strings.Contains(lower, "client_token") {
		return false
	}
	return strings.Contains(lower, "invalid") || strings.Contains(lower, "expired")
}
