// Package history persists listened tracks.
package history

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/spotwatch/internal/domain/activity"
)

// Columns are the history fields, in file order.
var Columns = []string{"Date", "Artist", "Track", "Playlist", "Album", "Last activity"}

// TimeLayout is the layout of the date columns.
const TimeLayout = "2006-01-02 15:04:05"

// Recorder persists plays.
type Recorder interface {
	Record(ctx context.Context, play activity.Play) error
	Close() error
}

// Multi records to every recorder.
type Multi []Recorder

// Record records play everywhere and joins the failures.
func (m Multi) Record(ctx context.Context, play activity.Play) error {
	var errs error
	for _, r := range m {
		if err := r.Record(ctx, play); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// Close closes every recorder.
func (m Multi) Close() error {
	var errs error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func row(play activity.Play) []string {
	return []string{
		play.Date.Format(TimeLayout),
		play.Artist,
		play.Track,
		play.Playlist,
		play.Album,
		play.LastActivity.Format(TimeLayout),
	}
}
