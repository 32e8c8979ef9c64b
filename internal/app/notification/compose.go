package notification

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/osa030/spotwatch/internal/domain/activity"
)

// Message is one composed notification.
type Message struct {
	ID         string    `json:"id"`
	SequenceNo uint64    `json:"sequence_no"`
	Kind       string    `json:"kind"`
	Event      string    `json:"event"`
	UserURI    string    `json:"user_uri"`
	Subject    string    `json:"subject"`
	Plain      string    `json:"plain"`
	HTML       string    `json:"html"`
	Time       time.Time `json:"time"`
}

// Composer renders events into messages.
type Composer struct {
	Location            *time.Location
	DisappearedInterval time.Duration
	Now                 func() time.Time
}

// NewComposer creates a composer using local time.
func NewComposer(disappearedInterval time.Duration) *Composer {
	return &Composer{Location: time.Local, DisappearedInterval: disappearedInterval, Now: time.Now}
}

// body accumulates the plain and HTML versions of a message.
type body struct {
	plain strings.Builder
	html  strings.Builder
}

func (b *body) text(s string) {
	b.plain.WriteString(s)
	b.html.WriteString(html.EscapeString(s))
}

func (b *body) bold(s string) {
	b.plain.WriteString(s)
	b.html.WriteString("<b>" + html.EscapeString(s) + "</b>")
}

func (b *body) link(href, text string) {
	b.plain.WriteString(text)
	if href == "" {
		b.html.WriteString(html.EscapeString(text))
		return
	}
	b.html.WriteString(`<a href="` + html.EscapeString(href) + `">` + html.EscapeString(text) + "</a>")
}

func (b *body) br() {
	b.plain.WriteString("\n")
	b.html.WriteString("<br>")
}

func (b *body) para() {
	b.br()
	b.br()
}

func (b *body) finish() (string, string) {
	return b.plain.String(), "<html><head></head><body>" + b.html.String() + "</body></html>"
}

// Compose renders ev. It returns false for events that carry no message.
func (c *Composer) Compose(ev activity.Event) (Message, bool) {
	msg := Message{Event: ev.Type.String(), UserURI: ev.UserURI, Time: ev.Time}
	var b body

	switch ev.Type {
	case activity.EventBecameActive:
		msg.Subject = c.activeSubject(ev)
		c.trackBlock(&b, ev)
		c.activeBlock(&b, ev)
		c.lastActivity(&b, ev.Snapshot.Timestamp)

	case activity.EventBecameInactive:
		s := ev.Session
		msg.Subject = fmt.Sprintf("Spotify user %s is inactive: '%s' (after %s: %s)",
			ev.Username, songTitle(ev), Timespan(s.Until, s.Since, false), DateRange(s.Since, s.Until, true, " - ", c.Location))
		c.trackBlock(&b, ev)
		c.inactiveBlock(&b, ev)

	case activity.EventTrackChanged, activity.EventTrackMatched:
		msg.Subject = fmt.Sprintf("Spotify user %s: '%s'", ev.Username, songTitle(ev))
		c.trackBlock(&b, ev)
		if ev.Type == activity.EventTrackMatched {
			b.para()
			b.text("Track/playlist/album matched with the list")
		}
		c.lastActivity(&b, ev.Snapshot.Timestamp)

	case activity.EventSongOnLoop:
		msg.Subject = fmt.Sprintf("Spotify user %s plays song on loop: '%s'", ev.Username, songTitle(ev))
		c.trackBlock(&b, ev)
		b.para()
		b.text("User plays song on LOOP (")
		b.bold(fmt.Sprint(ev.LoopCount))
		b.text(" times)")
		c.lastActivity(&b, ev.Snapshot.Timestamp)

	case activity.EventDisappeared:
		msg.Subject = fmt.Sprintf("Spotify user %s (%s) disappeared!", ev.UserURI, ev.Username)
		b.text(fmt.Sprintf("Spotify user %s (%s) disappeared, retrying in %s intervals",
			ev.UserURI, ev.Username, DisplayDuration(int64(c.DisappearedInterval/time.Second))))
		if ev.AccountRemoved {
			b.para()
			b.text("The public profile is gone, the account might have been removed")
		}

	case activity.EventReappeared:
		msg.Subject = fmt.Sprintf("Spotify user %s (%s) appeared!", ev.UserURI, ev.Username)
		b.text(fmt.Sprintf("Spotify user %s (%s) appeared again!", ev.UserURI, ev.Username))

	case activity.EventAuthError:
		msg.Subject = fmt.Sprintf("spotwatch: sp_dc might have expired! (uri: %s)", ev.UserURI)
		b.text(fmt.Sprintf("sp_dc might have expired: %v", ev.Err))

	case activity.EventPersistentError:
		msg.Subject = fmt.Sprintf("spotwatch: %d %s errors (uri: %s)", ev.ErrorCount, ev.ErrorClass, ev.UserURI)
		b.text(fmt.Sprintf("%d %s errors in a row, last error: %v", ev.ErrorCount, ev.ErrorClass, ev.Err))

	case activity.EventError:
		msg.Subject = fmt.Sprintf("spotwatch: error (uri: %s)", ev.UserURI)
		b.text(fmt.Sprintf("Error: %v", ev.Err))

	default:
		return Message{}, false
	}

	b.para()
	b.text("Timestamp: " + c.date(c.Now().Unix()))
	msg.Plain, msg.HTML = b.finish()
	return msg, true
}

func songTitle(ev activity.Event) string {
	if ev.Snapshot == nil {
		return ""
	}
	return ev.Snapshot.Artist + " - " + ev.Snapshot.Track
}

func (c *Composer) date(ts int64) string {
	return Date(ts, c.Location)
}

func (c *Composer) activeSubject(ev activity.Event) string {
	subject := fmt.Sprintf("Spotify user %s is active: '%s'", ev.Username, songTitle(ev))
	if ev.OfflineSince > 0 {
		subject += fmt.Sprintf(" (after %s - %s)",
			Timespan(sessionStart(ev), ev.OfflineSince, false), ShortDate(ev.OfflineSince, c.Location))
	}
	return subject
}

// sessionStart is when the reported track started playing.
func sessionStart(ev activity.Event) int64 {
	start := ev.Snapshot.Timestamp
	if ev.Track != nil {
		start -= ev.Track.Duration
	}
	return start
}

func (c *Composer) trackBlock(b *body, ev activity.Event) {
	snap := ev.Snapshot
	track := ev.Track
	if track == nil {
		track = &activity.TrackInfo{}
	}

	b.text("Last played: ")
	b.html.WriteString("<b>")
	b.link(track.ArtistURL, snap.Artist)
	b.text(" - ")
	b.link(track.URL, snap.Track)
	b.html.WriteString("</b>")
	b.br()
	b.text("Duration: " + DisplayDuration(track.Duration))

	if ev.PlayedFor > 0 {
		b.br()
		b.text("Played for: " + DisplayDuration(ev.PlayedFor))
		percent := int(ev.PlayedFraction * 100)
		if ev.Skipped {
			b.text(fmt.Sprintf(" - SKIPPED (%d%%)", percent))
		} else {
			b.text(fmt.Sprintf(" (%d%%)", percent))
		}
	}

	if ev.Playlist != nil {
		b.br()
		b.text("Playlist: ")
		b.link(ev.Playlist.URL, snap.Playlist)
		if ev.Playlist.Owner != "" {
			b.text(fmt.Sprintf(" (by %s, %s followers)", ev.Playlist.Owner, humanize.Comma(int64(ev.Playlist.Followers))))
		}
	}

	b.br()
	b.text("Album: ")
	b.link(track.AlbumURL, snap.Album)

	switch {
	case snap.IsAlbumContext():
		b.br()
		b.text("Context (Album): ")
		b.link(activity.URIToURL(snap.PlaylistURI), snap.Playlist)
	case snap.IsArtistContext():
		b.br()
		b.text("Context (Artist): ")
		b.link(activity.URIToURL(snap.PlaylistURI), snap.Playlist)
	}

	apple, genius := SearchURLs(snap.Artist, snap.Track)
	b.para()
	b.text("Apple search URL: ")
	b.link(apple, apple)
	b.br()
	b.text("Genius lyrics URL: ")
	b.link(genius, genius)
}

func (c *Composer) activeBlock(b *body, ev activity.Event) {
	b.para()
	if ev.OfflineSince == 0 {
		b.text("Friend got active")
		return
	}
	b.text("Friend got active after being offline for ")
	b.bold(Timespan(sessionStart(ev), ev.OfflineSince, true))
	b.br()
	b.text("Last activity (before getting offline): ")
	b.bold(c.date(ev.OfflineSince))

	if ev.Corrected {
		b.br()
		b.text("Inactivity timer (")
		b.bold(DisplayDuration(int64(ev.Inactivity / time.Second)))
		b.text(") value might be too low, readjusting session start back to ")
		b.bold(ShortDate(ev.Session.Since, c.Location))
	}
}

func (c *Composer) inactiveBlock(b *body, ev activity.Event) {
	s := ev.Session
	b.para()
	b.text("Friend got inactive after listening to music for ")
	b.bold(Timespan(s.Until, s.Since, true))
	b.br()
	b.text("Friend played music from ")
	b.bold(DateRange(s.Since, s.Until, true, " to ", c.Location))

	b.para()
	b.text("User played ")
	b.bold(fmt.Sprint(s.Counters.Listened))
	b.text(" songs")
	if s.Counters.Skipped > 0 && s.Counters.Listened > 0 {
		b.text(", skipped ")
		b.bold(fmt.Sprint(s.Counters.Skipped))
		b.text(fmt.Sprintf(" songs (%d%%)", s.Counters.Skipped*100/s.Counters.Listened))
	}
	if s.Counters.Looped > 0 {
		b.br()
		b.text("User played ")
		b.bold(fmt.Sprint(s.Counters.Looped))
		b.text(" songs on loop")
	}

	b.para()
	b.text("Last activity: ")
	b.bold(c.date(s.Until))
	b.br()
	b.text("Inactivity timer: " + DisplayDuration(int64(ev.Inactivity/time.Second)))
}

func (c *Composer) lastActivity(b *body, ts int64) {
	b.para()
	b.text("Last activity: " + c.date(ts))
}

// Summary is the one-line console description of ev.
func (c *Composer) Summary(ev activity.Event) string {
	name := ev.Username
	if name == "" {
		name = ev.UserURI
	}
	now := c.Now()

	switch ev.Type {
	case activity.EventBecameActive:
		return fmt.Sprintf("%s got ACTIVE: %s", name, songTitle(ev))
	case activity.EventBecameInactive:
		return fmt.Sprintf("%s got INACTIVE after listening to music for %s (%d songs, %d skipped, %d on loop)",
			name, Timespan(ev.Session.Until, ev.Session.Since, true),
			ev.Session.Counters.Listened, ev.Session.Counters.Skipped, ev.Session.Counters.Looped)
	case activity.EventOffline:
		return fmt.Sprintf("%s is OFFLINE, last activity %s", name,
			humanize.RelTime(time.Unix(ev.OfflineSince, 0), now, "ago", "from now"))
	case activity.EventTrackChanged:
		line := fmt.Sprintf("%s played %s", name, songTitle(ev))
		if ev.Skipped {
			line += fmt.Sprintf(" (previous track SKIPPED after %s)", DisplayDuration(ev.PlayedFor))
		}
		return line
	case activity.EventTrackMatched:
		return fmt.Sprintf("%s: track/playlist/album matched with the list: %s", name, songTitle(ev))
	case activity.EventSongOnLoop:
		return fmt.Sprintf("%s plays song on LOOP (%d times): %s", name, ev.LoopCount, songTitle(ev))
	case activity.EventNotFound:
		return fmt.Sprintf("Spotify user %s not found, retrying in %s intervals",
			ev.UserURI, DisplayDuration(int64(c.DisappearedInterval/time.Second)))
	case activity.EventDisappeared:
		return fmt.Sprintf("Spotify user %s (%s) disappeared", ev.UserURI, ev.Username)
	case activity.EventReappeared:
		return fmt.Sprintf("Spotify user %s (%s) appeared again", ev.UserURI, ev.Username)
	case activity.EventAliveCheck:
		return "Alive check"
	default:
		return fmt.Sprintf("%s: %s: %v", name, ev.Type, ev.Err)
	}
}
