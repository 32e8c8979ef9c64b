// Package spotify provides the presence client: the friend activity feed
// and the Web API lookups used to enrich it.
package spotify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/spotwatch/internal/domain/activity"
	"github.com/osa030/spotwatch/internal/domain/fault"
	"github.com/osa030/spotwatch/internal/infra/auth"
	"github.com/osa030/spotwatch/internal/infra/httpx"
)

// Default endpoints.
const (
	DefaultBuddylistURL = "https://guc-spclient.spotify.com/presence-view/v1/buddylist"
	DefaultAPIBaseURL   = "https://api.spotify.com/v1/"
)

// Client is the presence client.
type Client struct {
	http         *http.Client
	buddylistURL string
	apiBaseURL   string
	userAgent    string
	maxRetries   int
	retryDelay   time.Duration
}

// Config represents presence client configuration.
type Config struct {
	BuddylistURL string
	APIBaseURL   string // Must end in "/"
	UserAgent    string
	MaxRetries   int // Attempts for Web API lookups
	RetryDelay   time.Duration
}

// New creates a new presence client.
func New(httpClient *http.Client, cfg Config) *Client {
	c := &Client{
		http:         httpClient,
		buddylistURL: cfg.BuddylistURL,
		apiBaseURL:   cfg.APIBaseURL,
		userAgent:    cfg.UserAgent,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}
	if c.buddylistURL == "" {
		c.buddylistURL = DefaultBuddylistURL
	}
	if c.apiBaseURL == "" {
		c.apiBaseURL = DefaultAPIBaseURL
	}
	if !strings.HasSuffix(c.apiBaseURL, "/") {
		c.apiBaseURL += "/"
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryDelay <= 0 {
		c.retryDelay = time.Second
	}
	return c
}

type buddylistResponse struct {
	Friends []struct {
		Timestamp int64 `json:"timestamp"`
		User      struct {
			URI  string `json:"uri"`
			Name string `json:"name"`
		} `json:"user"`
		Track struct {
			URI    string `json:"uri"`
			Name   string `json:"name"`
			Artist struct {
				URI  string `json:"uri"`
				Name string `json:"name"`
			} `json:"artist"`
			Album struct {
				URI  string `json:"uri"`
				Name string `json:"name"`
			} `json:"album"`
			Context struct {
				URI  string `json:"uri"`
				Name string `json:"name"`
			} `json:"context"`
		} `json:"track"`
	} `json:"friends"`
	Error json.RawMessage `json:"error"`
}

// FriendActivity fetches the buddy list.
func (c *Client) FriendActivity(ctx context.Context, cred *auth.Credential) ([]activity.FriendSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buddylistURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create buddylist request")
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	if cred.ClientID != "" {
		req.Header.Set("Client-Id", cred.ClientID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "buddylist request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read buddylist response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.StatusError("buddylist", resp.StatusCode, string(body))
	}

	var r buddylistResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, errors.Wrap(err, "failed to decode buddylist")
	}
	if len(r.Error) > 0 && string(r.Error) != "null" {
		return nil, errors.Newf("buddylist error: %s", string(r.Error))
	}

	friends := make([]activity.FriendSnapshot, 0, len(r.Friends))
	for _, f := range r.Friends {
		friends = append(friends, activity.FriendSnapshot{
			UserURI:     strings.TrimPrefix(f.User.URI, "spotify:user:"),
			Username:    f.User.Name,
			Artist:      f.Track.Artist.Name,
			Track:       f.Track.Name,
			Album:       f.Track.Album.Name,
			Playlist:    f.Track.Context.Name,
			PlaylistURI: f.Track.Context.URI,
			TrackURI:    f.Track.URI,
			AlbumURI:    f.Track.Album.URI,
			Timestamp:   f.Timestamp / 1000,
		})
	}
	return friends, nil
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, cred *auth.Credential, trackID string) (*activity.TrackInfo, error) {
	id := extractTrackID(trackID)
	if id == "" {
		return nil, errors.New("track ID is required")
	}

	api := c.api(ctx, cred)
	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := api.GetTrack(ctx, spotify.ID(id))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	return convertTrack(result), nil
}

// GetPlaylist retrieves playlist name, owner and follower count.
func (c *Client) GetPlaylist(ctx context.Context, cred *auth.Credential, playlistID string) (*activity.PlaylistInfo, error) {
	id := extractPlaylistID(playlistID)
	if id == "" {
		return nil, errors.New("invalid playlist URL")
	}

	api := c.api(ctx, cred)
	var result *spotify.FullPlaylist
	err := c.retry(ctx, func() error {
		p, err := api.GetPlaylist(ctx, spotify.ID(id), spotify.Fields("name,owner,followers,external_urls"))
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist")
	}

	return &activity.PlaylistInfo{
		Name:      result.Name,
		Owner:     result.Owner.DisplayName,
		OwnerURL:  result.Owner.ExternalURLs["spotify"],
		Followers: int(result.Followers.Count),
		URL:       withSI(result.ExternalURLs["spotify"]),
	}, nil
}

// UserExists reports whether a public profile exists for userURIID.
func (c *Client) UserExists(ctx context.Context, cred *auth.Credential, userURIID string) (bool, error) {
	_, err := c.api(ctx, cred).GetUsersPublicProfile(ctx, spotify.ID(userURIID))
	if err == nil {
		return true, nil
	}
	var apiErr spotify.Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return false, nil
	}
	// Errors with an empty body carry the status only in their text.
	if strings.Contains(err.Error(), "HTTP 404") {
		return false, nil
	}
	return false, errors.Wrap(mapAPIError(err), "failed to get user profile")
}

func (c *Client) api(ctx context.Context, cred *auth.Credential) *spotify.Client {
	httpClient := httpx.BearerClient(ctx, c.http, cred.Token, map[string]string{
		"Client-Id":  cred.ClientID,
		"User-Agent": c.userAgent,
	})
	return spotify.New(httpClient, spotify.WithBaseURL(c.apiBaseURL))
}

// convertTrack converts a Spotify FullTrack to TrackInfo.
func convertTrack(t *spotify.FullTrack) *activity.TrackInfo {
	info := &activity.TrackInfo{
		Name:     t.Name,
		Album:    t.Album.Name,
		Duration: int64(t.Duration) / 1000,
		URL:      withSI(t.ExternalURLs["spotify"]),
		AlbumURL: withSI(t.Album.ExternalURLs["spotify"]),
	}
	if info.URL == "" && t.ID != "" {
		info.URL = activity.URIToURL("spotify:track:" + string(t.ID))
	}
	if len(t.Artists) > 0 {
		info.Artist = t.Artists[0].Name
		info.ArtistURL = withSI(t.Artists[0].ExternalURLs["spotify"])
	}
	return info
}

// withSI adds the parameter that makes links open in the desktop app.
func withSI(url string) string {
	if url == "" || strings.Contains(url, "?") {
		return url
	}
	return url + "?si=1"
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = mapAPIError(err)

		if !isRetryable(lastErr) {
			return lastErr
		}

		if i < c.maxRetries-1 {
			timer := time.NewTimer(c.retryDelay * time.Duration(i+1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Wrap(ctx.Err(), "retry interrupted")
			case <-timer.C:
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// mapAPIError marks Web API errors with the class of their status code.
func mapAPIError(err error) error {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return fault.FromStatus(err, apiErr.Status)
	}
	return err
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch fault.Classify(err) {
	case fault.ClassServer, fault.ClassTransient:
		return true
	default:
		return false
	}
}

// extractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func extractPlaylistID(input string) string {
	return extractID(input, "playlist")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	return extractID(input, "track")
}

func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:<kind>:ID
	if prefix := "spotify:" + kind + ":"; strings.HasPrefix(input, prefix) {
		return strings.TrimPrefix(input, prefix)
	}

	// Handle URL format: https://open.spotify.com/<kind>/ID or https://open.spotify.com/intl-XX/<kind>/ID
	sep := "/" + kind + "/"
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, sep) {
		parts := strings.Split(input, sep)
		// Remove query parameters and trailing slashes
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	// Assume it's already an ID
	return input
}
