package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotwatch/internal/domain/fault"
	"github.com/osa030/spotwatch/internal/infra/totp"
)

// CookieConfig configures the cookie strategy.
type CookieConfig struct {
	SPDC           string // sp_dc cookie value
	TokenURL       string
	ServerTimeURL  string
	ServerTimeMode string // totp.ModeHeader or totp.ModeJSON
	UserAgent      string
	TOTPVersion    int
	Ciphers        map[int][]byte // Overrides for the built-in cipher table
}

// CookieStrategy exchanges the sp_dc cookie and a TOTP code for a web player
// access token.
type CookieStrategy struct {
	client    *http.Client
	prober    Prober
	tokenURL  string
	spDC      string
	userAgent string
	gen       *totp.Generator
	clock     *totp.ServerClock
	now       func() time.Time
}

// NewCookieStrategy creates a cookie strategy.
func NewCookieStrategy(client *http.Client, prober Prober, cfg CookieConfig) (*CookieStrategy, error) {
	if cfg.SPDC == "" {
		return nil, errors.Mark(errors.New("sp_dc cookie is required"), fault.ErrConfig)
	}
	version := cfg.TOTPVersion
	if version == 0 {
		version = totp.DefaultVersion
	}
	gen, err := totp.NewGenerator(version, cfg.Ciphers)
	if err != nil {
		return nil, err
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = RandomUserAgent()
	}
	return &CookieStrategy{
		client:    client,
		prober:    prober,
		tokenURL:  cfg.TokenURL,
		spDC:      cfg.SPDC,
		userAgent: ua,
		gen:       gen,
		clock:     totp.NewServerClock(client, cfg.ServerTimeURL, cfg.ServerTimeMode, ua),
		now:       time.Now,
	}, nil
}

// Name returns the strategy name.
func (s *CookieStrategy) Name() string {
	return "cookie"
}

// Refresh requests a token with reason=transport and falls back to
// reason=init when that fails or yields a token the API rejects.
func (s *CookieStrategy) Refresh(ctx context.Context) (*Credential, error) {
	serverTime, err := s.clock.Now(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get server time")
	}
	code, err := s.gen.At(serverTime)
	if err != nil {
		return nil, err
	}
	params := s.params(code, serverTime)

	cred, err := s.request(ctx, params)
	if err == nil && s.prober.Validate(ctx, cred) {
		return cred, nil
	}
	if err != nil {
		zlog.Debug().Err(err).Msg("Token transport mode failed")
	}

	zlog.Info().Msg("Retrying token init mode")
	params.Set("reason", "init")
	cred, err = s.request(ctx, params)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "unsuccessful token request"), fault.ErrAuth)
	}
	return cred, nil
}

func (s *CookieStrategy) params(code string, serverTime time.Time) url.Values {
	params := url.Values{}
	params.Set("reason", "transport")
	params.Set("productType", "web-player")
	params.Set("totp", code)
	params.Set("totpServer", code)
	params.Set("totpVer", strconv.Itoa(s.gen.Version()))

	// Older cipher versions also expect the timing and build fields.
	if s.gen.Version() < 10 {
		date := serverTime.UTC().Format("2006-01-02")
		nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		params.Set("sTime", strconv.FormatInt(serverTime.Unix(), 10))
		params.Set("cTime", strconv.FormatInt(s.now().UnixMilli(), 10))
		params.Set("buildDate", date)
		params.Set("buildVer", "web-player_"+date+"_"+strconv.FormatInt(serverTime.Unix()*1000, 10)+"_"+nonce)
	}
	return params
}

type tokenResponse struct {
	AccessToken                      string `json:"accessToken"`
	AccessTokenExpirationTimestampMs int64  `json:"accessTokenExpirationTimestampMs"`
	ClientID                         string `json:"clientId"`
	IsAnonymous                      bool   `json:"isAnonymous"`
}

func (s *CookieStrategy) request(ctx context.Context, params url.Values) (*Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.tokenURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create token request")
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://open.spotify.com/")
	req.Header.Set("App-Platform", "WebPlayer")
	req.Header.Set("Cookie", "sp_dc="+s.spDC)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "token request failed"), fault.ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.StatusError("token", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, errors.Wrap(err, "token response is not JSON")
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response has no accessToken")
	}
	if tr.IsAnonymous {
		return nil, errors.New("token is anonymous, sp_dc cookie was not accepted")
	}

	return &Credential{
		Token:     tr.AccessToken,
		ExpiresAt: time.Unix(tr.AccessTokenExpirationTimestampMs/1000, 0),
		ClientID:  tr.ClientID,
	}, nil
}
