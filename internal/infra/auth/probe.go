package auth

import (
	"context"
	"net/http"

	"github.com/zmb3/spotify/v2"

	"github.com/osa030/spotwatch/internal/infra/httpx"
)

// MeProber validates a credential with GET /v1/me.
type MeProber struct {
	client    *http.Client
	apiBase   string
	userAgent string
}

// NewMeProber creates a prober. apiBase is the Web API base URL ending in "/".
func NewMeProber(client *http.Client, apiBase, userAgent string) *MeProber {
	return &MeProber{client: client, apiBase: apiBase, userAgent: userAgent}
}

// Validate reports whether the API accepts cred.
func (p *MeProber) Validate(ctx context.Context, cred *Credential) bool {
	if cred == nil || cred.Token == "" {
		return false
	}
	httpClient := httpx.BearerClient(ctx, p.client, cred.Token, map[string]string{
		"Client-Id":  cred.ClientID,
		"User-Agent": p.userAgent,
	})
	_, err := spotify.New(httpClient, spotify.WithBaseURL(p.apiBase)).CurrentUser(ctx)
	return err == nil
}
