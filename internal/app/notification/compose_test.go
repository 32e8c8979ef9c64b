package notification

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/spotwatch/internal/domain/activity"
)

const lastTS = 1713712092 // Sun 21 Apr 2024 15:08:12 UTC

func testComposer() *Composer {
	return &Composer{
		Location:            time.UTC,
		DisappearedInterval: 3 * time.Minute,
		Now:                 func() time.Time { return time.Unix(lastTS+8, 0) },
	}
}

func trackEvent(typ activity.EventType) activity.Event {
	return activity.Event{
		Type:     typ,
		UserURI:  "friend",
		Username: "Friend",
		Time:     time.Unix(lastTS+8, 0),
		Snapshot: &activity.FriendSnapshot{
			UserURI:     "friend",
			Username:    "Friend",
			Artist:      "Queen",
			Track:       "Bohemian Rhapsody",
			Album:       "A Night at the Opera",
			Playlist:    "A Night at the Opera",
			PlaylistURI: "spotify:album:1",
			Timestamp:   lastTS,
		},
		Track: &activity.TrackInfo{
			Name:      "Bohemian Rhapsody",
			Artist:    "Queen",
			Album:     "A Night at the Opera",
			Duration:  200,
			URL:       "https://open.spotify.com/track/1?si=1",
			ArtistURL: "https://open.spotify.com/artist/1?si=1",
			AlbumURL:  "https://open.spotify.com/album/1?si=1",
		},
	}
}

func TestCompose_BecameActive(t *testing.T) {
	c := testComposer()

	ev := trackEvent(activity.EventBecameActive)
	msg, ok := c.Compose(ev)
	require.True(t, ok)
	assert.Equal(t, "Spotify user Friend is active: 'Queen - Bohemian Rhapsody'", msg.Subject)
	assert.Contains(t, msg.Plain, "Last played: Queen - Bohemian Rhapsody\nDuration: 3 minutes, 20 seconds")
	assert.Contains(t, msg.Plain, "\n\nFriend got active\n\nLast activity: Sun 21 Apr 2024, 15:08:12")
	assert.Contains(t, msg.Plain, "Timestamp: Sun 21 Apr 2024, 15:08:20")

	ev.OfflineSince = 1713700000
	msg, _ = c.Compose(ev)
	assert.Equal(t, "Spotify user Friend is active: 'Queen - Bohemian Rhapsody' (after 3 hours, 18 minutes - Sun 21 Apr 11:46)", msg.Subject)
	assert.Contains(t, msg.Plain, "Friend got active after being offline for 3 hours, 18 minutes, 12 seconds")
	assert.Contains(t, msg.Plain, "Last activity (before getting offline): Sun 21 Apr 2024, 11:46:40")
	assert.NotContains(t, msg.Plain, "readjusting")

	ev.Corrected = true
	ev.Inactivity = 11 * time.Minute
	ev.Session.Since = 1713700000 - 600
	msg, _ = c.Compose(ev)
	assert.Contains(t, msg.Plain, "Inactivity timer (11 minutes) value might be too low, readjusting session start back to Sun 21 Apr 11:36")
	assert.Contains(t, msg.HTML, "Inactivity timer (<b>11 minutes</b>)")
}

func TestCompose_BecameInactive(t *testing.T) {
	ev := trackEvent(activity.EventBecameInactive)
	ev.Inactivity = 11 * time.Minute
	ev.Session = activity.Session{
		Since:    lastTS - 3600,
		Until:    lastTS,
		Counters: activity.Counters{Listened: 10, Skipped: 3, Looped: 1},
	}

	msg, ok := testComposer().Compose(ev)
	require.True(t, ok)
	assert.Equal(t, "Spotify user Friend is inactive: 'Queen - Bohemian Rhapsody' (after 1 hour: Sun 21 Apr 14:08 - 15:08)", msg.Subject)
	assert.Contains(t, msg.Plain, "Friend got inactive after listening to music for 1 hour")
	assert.Contains(t, msg.Plain, "Friend played music from Sun 21 Apr 14:08 to 15:08")
	assert.Contains(t, msg.Plain, "User played 10 songs, skipped 3 songs (30%)\nUser played 1 songs on loop")
	assert.Contains(t, msg.Plain, "Inactivity timer: 11 minutes")
}

func TestCompose_TrackChanged(t *testing.T) {
	ev := trackEvent(activity.EventTrackChanged)
	ev.PlayedFor = 5
	ev.PlayedFraction = 5.0 / 299
	ev.Skipped = true
	ev.Snapshot.Playlist = "Road Trip"
	ev.Snapshot.PlaylistURI = "spotify:playlist:abc"
	ev.Playlist = &activity.PlaylistInfo{Name: "Road Trip", Owner: "dj", Followers: 1234, URL: "https://open.spotify.com/playlist/abc?si=1"}

	msg, ok := testComposer().Compose(ev)
	require.True(t, ok)
	assert.Equal(t, "Spotify user Friend: 'Queen - Bohemian Rhapsody'", msg.Subject)
	assert.Contains(t, msg.Plain, "Played for: 5 seconds - SKIPPED (1%)")
	assert.Contains(t, msg.Plain, "Playlist: Road Trip (by dj, 1,234 followers)")
	assert.Contains(t, msg.Plain, "Apple search URL: https://music.apple.com/pl/search?term=Queen%20Bohemian%20Rhapsody")
	assert.Contains(t, msg.HTML, `<a href="https://open.spotify.com/playlist/abc?si=1">Road Trip</a>`)
	assert.NotContains(t, msg.Plain, "Context (Album)")

	ev.Skipped = false
	ev.PlayedFor = 200
	ev.PlayedFraction = 200.0 / 299
	msg, _ = testComposer().Compose(ev)
	assert.Contains(t, msg.Plain, "Played for: 3 minutes, 20 seconds (66%)")
}

func TestCompose_Context(t *testing.T) {
	ev := trackEvent(activity.EventTrackChanged)
	ev.Snapshot.Playlist = "Queen"
	ev.Snapshot.PlaylistURI = "spotify:artist:q"

	msg, _ := testComposer().Compose(ev)
	assert.Contains(t, msg.Plain, "Context (Artist): Queen")
	assert.Contains(t, msg.HTML, `<a href="https://open.spotify.com/artist/q?si=1">Queen</a>`)

	ev.Snapshot.Playlist = "Greatest Hits"
	ev.Snapshot.PlaylistURI = "spotify:album:gh"
	msg, _ = testComposer().Compose(ev)
	assert.Contains(t, msg.Plain, "Context (Album): Greatest Hits")
}

func TestCompose_EscapesHTML(t *testing.T) {
	ev := trackEvent(activity.EventTrackChanged)
	ev.Snapshot.Artist = "Simon & Garfunkel"

	msg, _ := testComposer().Compose(ev)
	assert.Contains(t, msg.Plain, "Simon & Garfunkel")
	assert.Contains(t, msg.HTML, "Simon &amp; Garfunkel")
	assert.True(t, len(msg.HTML) > 0 && msg.HTML[:6] == "<html>")
}

func TestCompose_SongOnLoop(t *testing.T) {
	ev := trackEvent(activity.EventSongOnLoop)
	ev.LoopCount = 3

	msg, ok := testComposer().Compose(ev)
	require.True(t, ok)
	assert.Equal(t, "Spotify user Friend plays song on loop: 'Queen - Bohemian Rhapsody'", msg.Subject)
	assert.Contains(t, msg.Plain, "User plays song on LOOP (3 times)")
	assert.Contains(t, msg.HTML, "User plays song on LOOP (<b>3</b> times)")
}

func TestCompose_PresenceAndErrors(t *testing.T) {
	tests := []struct {
		name    string
		event   activity.Event
		subject string
		body    string
	}{
		{
			name:    "disappeared",
			event:   activity.Event{Type: activity.EventDisappeared, UserURI: "friend", Username: "Friend"},
			subject: "Spotify user friend (Friend) disappeared!",
			body:    "Spotify user friend (Friend) disappeared, retrying in 3 minutes intervals",
		},
		{
			name:    "account removed",
			event:   activity.Event{Type: activity.EventDisappeared, UserURI: "friend", Username: "Friend", AccountRemoved: true},
			subject: "Spotify user friend (Friend) disappeared!",
			body:    "the account might have been removed",
		},
		{
			name:    "reappeared",
			event:   activity.Event{Type: activity.EventReappeared, UserURI: "friend", Username: "Friend"},
			subject: "Spotify user friend (Friend) appeared!",
			body:    "Spotify user friend (Friend) appeared again!",
		},
		{
			name:    "auth",
			event:   activity.Event{Type: activity.EventAuthError, UserURI: "friend", Err: errors.New("token rejected")},
			subject: "spotwatch: sp_dc might have expired! (uri: friend)",
			body:    "sp_dc might have expired: token rejected",
		},
		{
			name:    "persistent",
			event:   activity.Event{Type: activity.EventPersistentError, UserURI: "friend", ErrorClass: "server", ErrorCount: 5, Err: errors.New("503")},
			subject: "spotwatch: 5 server errors (uri: friend)",
			body:    "5 server errors in a row, last error: 503",
		},
		{
			name:    "generic",
			event:   activity.Event{Type: activity.EventError, UserURI: "friend", Err: errors.New("boom")},
			subject: "spotwatch: error (uri: friend)",
			body:    "Error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := testComposer().Compose(tt.event)
			require.True(t, ok)
			assert.Equal(t, tt.subject, msg.Subject)
			assert.Contains(t, msg.Plain, tt.body)
		})
	}
}

func TestCompose_Silent(t *testing.T) {
	for _, typ := range []activity.EventType{activity.EventOffline, activity.EventNotFound, activity.EventAliveCheck} {
		_, ok := testComposer().Compose(activity.Event{Type: typ})
		assert.False(t, ok, typ.String())
	}
}

func TestSummary(t *testing.T) {
	c := testComposer()

	ev := activity.Event{Type: activity.EventOffline, Username: "Friend", OfflineSince: lastTS - 7200}
	assert.Equal(t, "Friend is OFFLINE, last activity 2 hours ago", c.Summary(ev))

	ev = trackEvent(activity.EventTrackChanged)
	ev.Skipped = true
	ev.PlayedFor = 5
	assert.Equal(t, "Friend played Queen - Bohemian Rhapsody (previous track SKIPPED after 5 seconds)", c.Summary(ev))

	ev = activity.Event{Type: activity.EventNotFound, UserURI: "friend"}
	assert.Equal(t, "Spotify user friend not found, retrying in 3 minutes intervals", c.Summary(ev))
}
