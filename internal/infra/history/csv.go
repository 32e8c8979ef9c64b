package history

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotwatch/internal/domain/activity"
)

// CSVRecorder appends plays to a CSV file.
type CSVRecorder struct {
	mu   sync.Mutex
	path string
}

// NewCSVRecorder opens path for appending. The header is written only when
// the file is new or empty.
func NewCSVRecorder(path string) (*CSVRecorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory for %s", path)
		}
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.Size() > 0:
		zlog.Debug().Msgf("history: appending to %s", path)
	case err == nil, os.IsNotExist(err):
		if err := appendRow(path, Columns); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	return &CSVRecorder{path: path}, nil
}

// Record appends one play.
func (r *CSVRecorder) Record(ctx context.Context, play activity.Play) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return appendRow(r.path, row(play))
}

// Close is a no-op; the file is opened per write.
func (r *CSVRecorder) Close() error {
	return nil
}

func appendRow(path string, record []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	w.Flush()
	return errors.Wrapf(w.Error(), "failed to flush %s", path)
}
