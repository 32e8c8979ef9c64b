package notification

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotwatch/internal/domain/activity"
)

// Notifier applies one friend's notification flags to the events of a poll.
type Notifier struct {
	flags    *Flags
	composer *Composer
	manager  *Manager
}

// NewNotifier creates a notifier.
func NewNotifier(flags *Flags, composer *Composer, manager *Manager) *Notifier {
	return &Notifier{flags: flags, composer: composer, manager: manager}
}

// Toggle flips a notification kind.
func (n *Notifier) Toggle(kind string) (bool, error) {
	return n.flags.Toggle(kind)
}

// Flags returns the current flags.
func (n *Notifier) Flags() map[string]bool {
	return n.flags.Snapshot()
}

// Notify logs every event of a poll and sends the enabled ones. A became
// active message already describes the track, so it suppresses the song
// and track messages of the same poll.
func (n *Notifier) Notify(ctx context.Context, events []activity.Event) {
	matched := false
	for _, ev := range events {
		if ev.Type == activity.EventTrackMatched {
			matched = true
		}
		n.log(ev)
	}

	sent := false
	for _, ev := range events {
		kind, ok := n.kind(ev, matched)
		if !ok || !n.flags.Enabled(kind) {
			continue
		}
		if sent && (kind == KindSong || kind == KindTrack) {
			continue
		}

		msg, ok := n.composer.Compose(ev)
		if !ok {
			continue
		}
		msg.Kind = kind
		n.manager.Broadcast(ctx, msg)

		if kind != KindLoop {
			sent = true
		}
	}
}

// kind maps an event to the flag that controls it. A match is reported
// through the track change it belongs to.
func (n *Notifier) kind(ev activity.Event, matched bool) (string, bool) {
	switch ev.Type {
	case activity.EventBecameActive:
		return KindActive, true
	case activity.EventBecameInactive:
		return KindInactive, true
	case activity.EventTrackChanged:
		if matched && n.flags.Enabled(KindTrack) {
			return KindTrack, true
		}
		return KindSong, true
	case activity.EventSongOnLoop:
		return KindLoop, true
	case activity.EventDisappeared, activity.EventReappeared,
		activity.EventAuthError, activity.EventPersistentError, activity.EventError:
		return KindErrors, true
	default:
		return "", false
	}
}

func (n *Notifier) log(ev activity.Event) {
	line := n.composer.Summary(ev)
	switch ev.Type {
	case activity.EventAuthError, activity.EventPersistentError, activity.EventError:
		zlog.Error().Str("user", ev.UserURI).Msg(line)
	case activity.EventDisappeared, activity.EventNotFound:
		zlog.Warn().Str("user", ev.UserURI).Msg(line)
	case activity.EventAliveCheck:
		zlog.Debug().Str("user", ev.UserURI).Msg(line)
	default:
		zlog.Info().Str("user", ev.UserURI).Msg(line)
	}
}
