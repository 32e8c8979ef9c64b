// Package activity provides the friend activity domain entities.
package activity

import (
	"strings"
	"time"
)

// FriendSnapshot is one friend's entry from the buddy list.
// Produced fresh on every poll.
type FriendSnapshot struct {
	UserURI     string // User ID without the spotify:user: prefix
	Username    string // Display name
	Artist      string // Artist name
	Track       string // Track name
	Album       string // Album name
	Playlist    string // Context name (playlist, album or artist)
	PlaylistURI string // Context URI
	TrackURI    string // spotify:track:...
	AlbumURI    string // spotify:album:...
	Timestamp   int64  // Last activity, unix seconds
}

// IsPlaylistContext reports whether the track was played from a playlist.
func (s *FriendSnapshot) IsPlaylistContext() bool {
	return strings.Contains(s.PlaylistURI, "spotify:playlist:")
}

// IsAlbumContext reports whether the track was played from an album other
// than the track's own album.
func (s *FriendSnapshot) IsAlbumContext() bool {
	return strings.Contains(s.PlaylistURI, "spotify:album:") && s.Playlist != s.Album
}

// IsArtistContext reports whether the track was played from an artist page.
func (s *FriendSnapshot) IsArtistContext() bool {
	return strings.Contains(s.PlaylistURI, "spotify:artist:")
}

// LastActivity returns the snapshot timestamp as time.
func (s *FriendSnapshot) LastActivity() time.Time {
	return time.Unix(s.Timestamp, 0)
}

// FindFriend returns the snapshot for userURIID.
func FindFriend(friends []FriendSnapshot, userURIID string) (*FriendSnapshot, bool) {
	for i := range friends {
		if friends[i].UserURI == userURIID {
			return &friends[i], true
		}
	}
	return nil, false
}

// TrackInfo is the metadata fetched for the track in a snapshot.
type TrackInfo struct {
	Name      string
	Artist    string
	Album     string
	Duration  int64 // seconds
	URL       string
	ArtistURL string
	AlbumURL  string
}

// PlaylistInfo is the metadata fetched for a playlist context.
type PlaylistInfo struct {
	Name      string
	Owner     string
	OwnerURL  string
	Followers int
	URL       string
}

// Play is one listened track, as written to the history.
type Play struct {
	UserURI      string
	Date         time.Time // When the track was observed
	Artist       string
	Track        string
	Playlist     string // Empty unless played from a playlist
	Album        string
	LastActivity time.Time
}

// Counters are the per-session statistics.
type Counters struct {
	Listened int
	Skipped  int
	Looped   int
}

// SessionState is the monitor-owned state for one friend.
type SessionState struct {
	IsActive           bool
	ActiveSince        int64 // unix seconds, 0 when not active
	ActiveUntil        int64 // last activity before going inactive, 0 when unknown
	Counters           Counters
	ConsecutiveRepeats int
	LastTrackKey       string
	LastEventTimestamp int64

	// Last track details, used when the next change arrives.
	LastArtist   string
	LastTrack    string
	LastDuration int64

	// Counters of the session closed by the last inactive transition.
	Previous      Counters
	PreviousSince int64

	Initialized      bool
	NotFound         bool
	DisappearedCount int
	Disappeared      bool
	AliveCounter     int
}

// TrackKey builds the key used to detect loops.
func TrackKey(artist, track string) string {
	return artist + "\x00" + track
}

// URIToURL converts a Spotify URI (e.g. spotify:user:name) into an
// open.spotify.com URL. Unknown URIs return an empty string.
func URIToURL(uri string) string {
	parts := strings.SplitN(uri, ":", 3)
	if len(parts) != 3 || parts[0] != "spotify" {
		return ""
	}
	switch parts[1] {
	case "user", "artist", "track", "album", "playlist":
		return "https://open.spotify.com/" + parts[1] + "/" + parts[2] + "?si=1"
	default:
		return ""
	}
}

// URIID returns the ID part of a Spotify URI.
func URIID(uri string) string {
	parts := strings.SplitN(uri, ":", 3)
	if len(parts) != 3 {
		return uri
	}
	return parts[2]
}
