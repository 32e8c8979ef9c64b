package activity

import "time"

// EventType represents a monitor event type.
type EventType int

const (
	EventBecameActive   EventType = iota // Friend started a listening session
	EventBecameInactive                  // Friend's session closed
	EventOffline                         // Friend was offline when first seen
	EventTrackChanged                    // A new track appeared
	EventTrackMatched                    // Track/playlist/album is on the monitor list
	EventSongOnLoop                      // Same song repeated song_on_loop times
	EventNotFound                        // Friend not on the list before first sighting
	EventDisappeared                     // Friend vanished from the list
	EventReappeared                      // Friend is back on the list
	EventAliveCheck                      // Periodic heartbeat
	EventAuthError                       // Token could not be obtained or was rejected
	EventPersistentError                 // Error window crossed its threshold
	EventError                           // Unclassified error
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventBecameActive:
		return "became_active"
	case EventBecameInactive:
		return "became_inactive"
	case EventOffline:
		return "offline"
	case EventTrackChanged:
		return "track_changed"
	case EventTrackMatched:
		return "track_matched"
	case EventSongOnLoop:
		return "song_on_loop"
	case EventNotFound:
		return "not_found"
	case EventDisappeared:
		return "disappeared"
	case EventReappeared:
		return "reappeared"
	case EventAliveCheck:
		return "alive_check"
	case EventAuthError:
		return "auth_error"
	case EventPersistentError:
		return "persistent_error"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Session summarizes a closed or reopened listening session.
type Session struct {
	Since    int64
	Until    int64
	Counters Counters
}

// Event is emitted by the monitor on state transitions.
type Event struct {
	Type     EventType
	UserURI  string
	Username string
	Time     time.Time // Wall clock when the event was produced

	Snapshot *FriendSnapshot
	Track    *TrackInfo
	Playlist *PlaylistInfo

	// Track change details
	PlayedFor      int64   // seconds the previous track was played, 0 if unknown
	PlayedFraction float64 // PlayedFor / (duration-1)
	Skipped        bool
	LoopCount      int

	// Session transitions
	Session      Session
	OfflineSince int64 // BecameActive: end of the previous session, 0 if none
	Corrected    bool  // BecameActive: previous session counters were restored
	Inactivity   time.Duration

	// Disappeared
	AccountRemoved bool

	// Errors
	Err        error
	ErrorClass string
	ErrorCount int
}
