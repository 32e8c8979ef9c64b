// Package watchlist loads the list of tracks, playlists and albums to
// watch for, and reloads it when the file changes.
package watchlist

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// List is a case-insensitive set of names.
type List struct {
	entries map[string]struct{}
}

// New creates a list from names.
func New(names ...string) *List {
	l := &List{entries: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			l.entries[strings.ToUpper(n)] = struct{}{}
		}
	}
	return l
}

// Parse reads one name per line. Blank lines and lines starting with # are
// skipped.
func Parse(r io.Reader) (*List, error) {
	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read watchlist")
	}
	return New(names...), nil
}

// Load reads the list from path.
func Load(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open watchlist %s", path)
	}
	defer f.Close()
	return Parse(f)
}

// Match reports whether any non-empty value is on the list.
func (l *List) Match(values ...string) bool {
	if l == nil {
		return false
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := l.entries[strings.ToUpper(v)]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Entries returns the normalized entries in sorted order.
func (l *List) Entries() []string {
	out := make([]string, 0, l.Len())
	if l == nil {
		return out
	}
	for e := range l.entries {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
