package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/osa030/spotwatch/internal/domain/activity"
)

// SQLiteRecorder stores plays in a SQLite database shared by all monitors.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder opens or creates the database at path.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory for %s", path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history db")
	}
	// Monitors write from several goroutines.
	db.SetMaxOpenConns(1)

	r := &SQLiteRecorder{db: db}
	if err := r.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRecorder) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS plays (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_uri TEXT NOT NULL,
			played_at INTEGER NOT NULL,
			artist TEXT NOT NULL,
			track TEXT NOT NULL,
			playlist TEXT NOT NULL DEFAULT '',
			album TEXT NOT NULL DEFAULT '',
			last_activity INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS plays_user_time ON plays (user_uri, played_at);`,
	}
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate history schema")
		}
	}
	return nil
}

// Record inserts one play.
func (r *SQLiteRecorder) Record(ctx context.Context, play activity.Play) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO plays (user_uri, played_at, artist, track, playlist, album, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		play.UserURI, play.Date.Unix(), play.Artist, play.Track, play.Playlist, play.Album, play.LastActivity.Unix())
	if err != nil {
		return errors.Wrap(err, "failed to insert play")
	}
	return nil
}

// Recent returns the latest plays of userURI, newest first.
func (r *SQLiteRecorder) Recent(ctx context.Context, userURI string, limit int) ([]activity.Play, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT played_at, artist, track, playlist, album, last_activity
		FROM plays WHERE user_uri = ? ORDER BY played_at DESC, id DESC LIMIT ?`, userURI, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query plays")
	}
	defer rows.Close()

	var plays []activity.Play
	for rows.Next() {
		var (
			playedAt, lastActivity int64
			p                      activity.Play
		)
		if err := rows.Scan(&playedAt, &p.Artist, &p.Track, &p.Playlist, &p.Album, &lastActivity); err != nil {
			return nil, errors.Wrap(err, "failed to scan play")
		}
		p.UserURI = userURI
		p.Date = unix(playedAt)
		p.LastActivity = unix(lastActivity)
		plays = append(plays, p)
	}
	return plays, errors.Wrap(rows.Err(), "failed to read plays")
}

// Close closes the database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func unix(ts int64) time.Time {
	return time.Unix(ts, 0)
}
