package notification

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Notification kinds that can be toggled at runtime.
const (
	KindActive   = "active"
	KindInactive = "inactive"
	KindSong     = "song"
	KindTrack    = "track"
	KindLoop     = "loop"
	KindErrors   = "errors"
)

// Kinds lists every toggleable kind.
var Kinds = []string{KindActive, KindInactive, KindSong, KindTrack, KindLoop, KindErrors}

// Flags is the set of enabled notification kinds.
type Flags struct {
	mu      sync.RWMutex
	enabled map[string]bool
}

// NewFlags creates flags with the given kinds enabled.
func NewFlags(enabled map[string]bool) (*Flags, error) {
	f := &Flags{enabled: make(map[string]bool, len(Kinds))}
	for _, k := range Kinds {
		f.enabled[k] = false
	}
	for k, v := range enabled {
		if _, ok := f.enabled[k]; !ok {
			return nil, errors.Newf("unknown notification kind %q", k)
		}
		f.enabled[k] = v
	}
	return f, nil
}

// Enabled reports whether kind is enabled.
func (f *Flags) Enabled(kind string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled[kind]
}

// Toggle flips kind and returns the new value.
func (f *Flags) Toggle(kind string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.enabled[kind]
	if !ok {
		return false, errors.Newf("unknown notification kind %q", kind)
	}
	f.enabled[kind] = !v
	return !v, nil
}

// Snapshot returns a copy of all flags.
func (f *Flags) Snapshot() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]bool, len(f.enabled))
	for k, v := range f.enabled {
		out[k] = v
	}
	return out
}

// String returns the enabled kinds, e.g. "[active errors]".
func (f *Flags) String() string {
	var on []string
	for k, v := range f.Snapshot() {
		if v {
			on = append(on, k)
		}
	}
	sort.Strings(on)
	return "[" + strings.Join(on, " ") + "]"
}
