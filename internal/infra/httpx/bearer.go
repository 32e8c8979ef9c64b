package httpx

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// BearerClient returns a client that sends token as a bearer credential over
// base's transport. Non-empty headers are added to every request; the
// private endpoints expect Client-Id next to the bearer token.
func BearerClient(ctx context.Context, base *http.Client, token string, headers map[string]string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	client.Timeout = base.Timeout

	extra := make(map[string]string, len(headers))
	for k, v := range headers {
		if v != "" {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		client.Transport = &headerTransport{base: client.Transport, headers: extra}
	}
	return client
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
