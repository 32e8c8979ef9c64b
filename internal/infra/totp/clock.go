package totp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/spotwatch/internal/domain/fault"
)

// Server time modes.
const (
	ModeHeader = "header" // HEAD request, Date response header
	ModeJSON   = "json"   // GET request, {"serverTime": <unix seconds>}
)

// ServerClock reads the current time from the token server.
type ServerClock struct {
	client    *http.Client
	url       string
	mode      string
	userAgent string
}

// NewServerClock creates a server clock. An empty mode selects ModeHeader.
func NewServerClock(client *http.Client, url, mode, userAgent string) *ServerClock {
	if mode == "" {
		mode = ModeHeader
	}
	return &ServerClock{client: client, url: url, mode: mode, userAgent: userAgent}
}

// Now returns the server's current time.
func (c *ServerClock) Now(ctx context.Context) (time.Time, error) {
	method := http.MethodHead
	if c.mode == ModeJSON {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url, nil)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to create server time request")
	}
	req.Header.Set("Accept", "*/*")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, errors.Mark(errors.Wrap(err, "failed to fetch server time"), fault.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return time.Time{}, fault.StatusError("server time", resp.StatusCode, "")
	}

	if c.mode == ModeJSON {
		var body struct {
			ServerTime int64 `json:"serverTime"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return time.Time{}, errors.Wrap(err, "failed to decode server time")
		}
		if body.ServerTime == 0 {
			return time.Time{}, errors.New("server time response has no serverTime")
		}
		return time.Unix(body.ServerTime, 0), nil
	}

	date := resp.Header.Get("Date")
	if date == "" {
		return time.Time{}, errors.New("server time response has no Date header")
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse Date header %q", date)
	}
	return t, nil
}
