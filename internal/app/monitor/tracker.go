// Package monitor tracks one friend's listening activity.
package monitor

import (
	"time"

	"github.com/osa030/spotwatch/internal/domain/activity"
)

// Settings holds the tracker thresholds.
type Settings struct {
	CheckInterval        time.Duration // Poll interval
	Inactivity           time.Duration // Silence after which an active friend is inactive
	ActivityCheck        time.Duration // A first sighting newer than this counts as active
	SongOnLoop           int           // Consecutive plays of one song that count as a loop
	SkipThreshold        float64       // Played fraction at or below which a track is skipped
	SessionGapTolerance  time.Duration // Gap under which a new session continues the previous one
	DisappearedThreshold int           // Consecutive misses before a friend counts as gone
	AliveInterval        time.Duration // Interval between alive checks
}

// DefaultSettings returns the default thresholds.
func DefaultSettings() Settings {
	return Settings{
		CheckInterval:        30 * time.Second,
		Inactivity:           660 * time.Second,
		ActivityCheck:        360 * time.Second,
		SongOnLoop:           3,
		SkipThreshold:        0.55,
		SessionGapTolerance:  30 * time.Second,
		DisappearedThreshold: 3,
		AliveInterval:        6 * time.Hour,
	}
}

// Matcher reports whether a track, playlist or album is on the watchlist.
type Matcher interface {
	Match(values ...string) bool
}

// Observation is the input of one poll.
type Observation struct {
	Now      time.Time
	Found    bool
	Snapshot *activity.FriendSnapshot
	Track    *activity.TrackInfo    // Nil when the track did not change
	Playlist *activity.PlaylistInfo // Nil unless played from a playlist
}

// Tracker is the per-friend state machine. It performs no I/O.
type Tracker struct {
	userURI  string
	settings Settings
	matcher  Matcher
	state    activity.SessionState
	username string

	// Details of the current track, kept for events of unchanged polls.
	track    *activity.TrackInfo
	playlist *activity.PlaylistInfo
}

// NewTracker creates a tracker for userURI.
func NewTracker(userURI string, settings Settings, matcher Matcher) *Tracker {
	return &Tracker{userURI: userURI, settings: settings, matcher: matcher}
}

// State returns a copy of the session state.
func (t *Tracker) State() activity.SessionState {
	return t.state
}

// Settings returns the current thresholds.
func (t *Tracker) Settings() Settings {
	return t.settings
}

// Username returns the friend's display name, empty before the first sighting.
func (t *Tracker) Username() string {
	return t.username
}

// SetInactivity changes the inactivity threshold.
func (t *Tracker) SetInactivity(d time.Duration) {
	t.settings.Inactivity = d
}

// SetMatcher replaces the watchlist.
func (t *Tracker) SetMatcher(m Matcher) {
	t.matcher = m
}

// NeedsDetails reports whether snap introduces a track whose metadata has
// not been fetched yet.
func (t *Tracker) NeedsDetails(snap *activity.FriendSnapshot) bool {
	return !t.state.Initialized || snap.Timestamp != t.state.LastEventTimestamp
}

// Observe applies one poll result and returns the resulting events.
func (t *Tracker) Observe(obs Observation) []activity.Event {
	if !obs.Found {
		return t.observeMissing(obs.Now)
	}

	var events []activity.Event
	if t.state.Disappeared {
		events = append(events, t.event(activity.EventReappeared, obs.Now))
	}
	t.state.Disappeared = false
	t.state.DisappearedCount = 0
	t.state.NotFound = false

	snap := *obs.Snapshot
	t.username = snap.Username
	if obs.Track != nil {
		fillFromTrack(&snap, obs.Track)
		t.track = obs.Track
		t.playlist = obs.Playlist
	}

	if !t.state.Initialized {
		return append(events, t.firstSighting(obs.Now, &snap)...)
	}
	if snap.Timestamp != t.state.LastEventTimestamp {
		return append(events, t.trackChanged(obs.Now, &snap)...)
	}
	return append(events, t.unchanged(obs.Now, &snap)...)
}

func (t *Tracker) observeMissing(now time.Time) []activity.Event {
	if !t.state.Initialized {
		if t.state.NotFound {
			return nil
		}
		t.state.NotFound = true
		return []activity.Event{t.event(activity.EventNotFound, now)}
	}

	t.state.DisappearedCount++
	if t.state.Disappeared || t.state.DisappearedCount < t.settings.DisappearedThreshold {
		return nil
	}
	t.state.Disappeared = true
	return []activity.Event{t.event(activity.EventDisappeared, now)}
}

func (t *Tracker) firstSighting(now time.Time, snap *activity.FriendSnapshot) []activity.Event {
	s := &t.state
	s.Initialized = true
	t.remember(snap)
	s.ConsecutiveRepeats = 1

	if now.Unix()-snap.Timestamp > secs(t.settings.ActivityCheck) {
		s.IsActive = false
		s.ActiveUntil = snap.Timestamp
		ev := t.eventFor(activity.EventOffline, now, snap)
		ev.OfflineSince = snap.Timestamp
		return []activity.Event{ev}
	}

	s.IsActive = true
	s.ActiveSince = snap.Timestamp - t.duration()
	s.ActiveUntil = 0
	s.Counters = activity.Counters{Listened: 1}

	active := t.eventFor(activity.EventBecameActive, now, snap)
	active.Session = activity.Session{Since: s.ActiveSince, Counters: s.Counters}
	events := []activity.Event{active, t.eventFor(activity.EventTrackChanged, now, snap)}
	if t.matches(snap) {
		events = append(events, t.eventFor(activity.EventTrackMatched, now, snap))
	}
	return events
}

func (t *Tracker) trackChanged(now time.Time, snap *activity.FriendSnapshot) []activity.Event {
	s := &t.state
	s.AliveCounter = 0

	key := activity.TrackKey(snap.Artist, snap.Track)
	looped := false
	if key == s.LastTrackKey {
		s.ConsecutiveRepeats++
		if s.ConsecutiveRepeats == t.settings.SongOnLoop {
			s.Counters.Looped++
			looped = true
		}
	} else {
		s.ConsecutiveRepeats = 1
	}
	s.Counters.Listened++

	changed := t.eventFor(activity.EventTrackChanged, now, snap)
	changed.LoopCount = s.ConsecutiveRepeats

	// The interval since the previous change is how long the previous track played.
	playedFor := snap.Timestamp - s.LastEventTimestamp
	duration := s.LastDuration
	if duration <= 0 {
		duration = t.duration()
	}
	if duration > 1 && playedFor < duration-1 {
		changed.PlayedFor = playedFor
		changed.PlayedFraction = float64(playedFor) / float64(duration-1)
		if changed.PlayedFraction <= t.settings.SkipThreshold {
			changed.Skipped = true
			s.Counters.Skipped++
		}
	}

	var events []activity.Event
	gap := now.Unix() - s.LastEventTimestamp
	if !s.IsActive || gap > secs(t.settings.Inactivity)+secs(t.settings.CheckInterval) {
		events = append(events, t.becameActive(now, snap))
	}
	changed.Session = activity.Session{Since: s.ActiveSince, Counters: s.Counters}
	events = append(events, changed)

	if t.matches(snap) {
		events = append(events, t.eventFor(activity.EventTrackMatched, now, snap))
	}
	if looped {
		ev := t.eventFor(activity.EventSongOnLoop, now, snap)
		ev.LoopCount = s.ConsecutiveRepeats
		events = append(events, ev)
	}

	t.remember(snap)
	return events
}

func (t *Tracker) becameActive(now time.Time, snap *activity.FriendSnapshot) activity.Event {
	s := &t.state
	start := snap.Timestamp - t.duration()
	s.Counters = activity.Counters{Listened: 1}

	ev := t.eventFor(activity.EventBecameActive, now, snap)
	if s.ActiveUntil > 0 {
		ev.OfflineSince = s.ActiveUntil
		// The inactivity threshold closed a session that was still going on.
		if start-s.ActiveUntil < secs(t.settings.SessionGapTolerance) {
			s.Counters = s.Previous
			ev.Corrected = true
			ev.Inactivity = t.settings.Inactivity
			if s.PreviousSince > 0 {
				start = s.PreviousSince
			}
		}
		s.ActiveUntil = 0
	}
	s.IsActive = true
	s.ActiveSince = start
	ev.Session = activity.Session{Since: start, Counters: s.Counters}
	return ev
}

func (t *Tracker) unchanged(now time.Time, snap *activity.FriendSnapshot) []activity.Event {
	s := &t.state
	s.AliveCounter++

	var events []activity.Event
	if s.IsActive && now.Unix()-snap.Timestamp > secs(t.settings.Inactivity) {
		ev := t.eventFor(activity.EventBecameInactive, now, snap)
		ev.Session = activity.Session{Since: s.ActiveSince, Until: snap.Timestamp, Counters: s.Counters}
		ev.Inactivity = t.settings.Inactivity
		events = append(events, ev)

		s.Previous = s.Counters
		s.PreviousSince = s.ActiveSince
		s.ActiveUntil = snap.Timestamp
		s.ActiveSince = 0
		s.Counters = activity.Counters{}
		s.IsActive = false
	}

	if every := t.aliveEvery(); every > 0 && s.AliveCounter >= every {
		s.AliveCounter = 0
		events = append(events, t.event(activity.EventAliveCheck, now))
	}
	return events
}

func (t *Tracker) remember(snap *activity.FriendSnapshot) {
	s := &t.state
	s.LastEventTimestamp = snap.Timestamp
	s.LastTrackKey = activity.TrackKey(snap.Artist, snap.Track)
	s.LastArtist = snap.Artist
	s.LastTrack = snap.Track
	s.LastDuration = t.duration()
}

func (t *Tracker) matches(snap *activity.FriendSnapshot) bool {
	if t.matcher == nil {
		return false
	}
	playlist := ""
	if snap.IsPlaylistContext() {
		playlist = snap.Playlist
	}
	return t.matcher.Match(snap.Track, playlist, snap.Album)
}

func (t *Tracker) aliveEvery() int {
	if t.settings.CheckInterval <= 0 || t.settings.AliveInterval <= 0 {
		return 0
	}
	return int(t.settings.AliveInterval / t.settings.CheckInterval)
}

func (t *Tracker) duration() int64 {
	if t.track == nil {
		return 0
	}
	return t.track.Duration
}

func (t *Tracker) event(typ activity.EventType, now time.Time) activity.Event {
	return activity.Event{Type: typ, UserURI: t.userURI, Username: t.username, Time: now}
}

func (t *Tracker) eventFor(typ activity.EventType, now time.Time, snap *activity.FriendSnapshot) activity.Event {
	ev := t.event(typ, now)
	s := *snap
	ev.Snapshot = &s
	ev.Track = t.track
	if snap.IsPlaylistContext() {
		ev.Playlist = t.playlist
	}
	return ev
}

// fillFromTrack fills names the buddy list left empty.
func fillFromTrack(snap *activity.FriendSnapshot, track *activity.TrackInfo) {
	if snap.Artist == "" {
		snap.Artist = track.Artist
	}
	if snap.Track == "" {
		snap.Track = track.Name
	}
	if snap.Album == "" {
		snap.Album = track.Album
	}
}

func secs(d time.Duration) int64 {
	return int64(d / time.Second)
}
