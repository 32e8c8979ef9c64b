package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/spotwatch/internal/app/monitor"
	"github.com/osa030/spotwatch/internal/domain/activity"
	"github.com/osa030/spotwatch/internal/infra/watchlist"
)

type fakeController struct {
	mu         sync.Mutex
	user       string
	inactivity time.Duration
	flags      map[string]bool
	matcher    monitor.Matcher
}

func newFakeController(user string) *fakeController {
	return &fakeController{
		user:       user,
		inactivity: 660 * time.Second,
		flags:      map[string]bool{"active": false, "song": false, "errors": true},
	}
}

func (f *fakeController) UserURI() string { return f.user }

func (f *fakeController) Status() monitor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return monitor.Status{
		UserURI:       f.user,
		Username:      "Name of " + f.user,
		State:         activity.SessionState{IsActive: true, ActiveSince: 1000, Counters: activity.Counters{Listened: 4, Skipped: 1}},
		Inactivity:    f.inactivity,
		Notifications: map[string]bool{"errors": true},
		LastPollAt:    time.Unix(2000, 0),
	}
}

func (f *fakeController) ToggleNotification(ctx context.Context, kind string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.flags[kind]
	if !ok {
		return false, errors.Newf("unknown notification kind %q", kind)
	}
	f.flags[kind] = !v
	return !v, nil
}

func (f *fakeController) AdjustInactivity(ctx context.Context, delta time.Duration) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inactivity+delta > 0 {
		f.inactivity += delta
	}
	return f.inactivity, nil
}

func (f *fakeController) ReloadWatchlist(ctx context.Context, matcher monitor.Matcher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matcher = matcher
	return nil
}

func (f *fakeController) currentMatcher() monitor.Matcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matcher
}

type fixture struct {
	alice  *fakeController
	bob    *fakeController
	client *ControlClient
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	alice := newFakeController("alice")
	bob := newFakeController("bob")
	loader := func(user string) (*watchlist.List, error) {
		if user == "bob" {
			return watchlist.New("From File"), nil
		}
		return nil, errors.New("no watchlist configured")
	}
	svc := NewControlService([]Controller{bob, alice}, 30*time.Second, loader)

	path, handler := NewHandler(svc, connect.WithInterceptors(NewAdminAuthInterceptor("secret")))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{
		alice:  alice,
		bob:    bob,
		client: NewControlClient(srv.Client(), srv.URL, "secret"),
		url:    srv.URL,
	}
}

func results(t *testing.T, msg *structpb.Struct, key string) []*structpb.Struct {
	t.Helper()
	var out []*structpb.Struct
	for _, v := range msg.GetFields()[key].GetListValue().GetValues() {
		out = append(out, v.GetStructValue())
	}
	return out
}

func TestControlService_Status(t *testing.T) {
	f := newFixture(t)

	resp, err := f.client.Status(context.Background(), "")
	require.NoError(t, err)

	friends := results(t, resp, "friends")
	require.Len(t, friends, 2)
	assert.Equal(t, "alice", friends[0].GetFields()["user"].GetStringValue())
	assert.Equal(t, "bob", friends[1].GetFields()["user"].GetStringValue())
	assert.True(t, friends[0].GetFields()["active"].GetBoolValue())
	assert.Equal(t, float64(4), friends[0].GetFields()["listened"].GetNumberValue())
	assert.Equal(t, float64(660), friends[0].GetFields()["inactivity_sec"].GetNumberValue())
	assert.True(t, friends[0].GetFields()["notifications"].GetStructValue().GetFields()["errors"].GetBoolValue())

	resp, err = f.client.Status(context.Background(), "bob")
	require.NoError(t, err)
	assert.Len(t, results(t, resp, "friends"), 1)
}

func TestControlService_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.Status(context.Background(), "carol")
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestControlService_RejectsBadToken(t *testing.T) {
	f := newFixture(t)

	for _, token := range []string{"", "wrong"} {
		client := NewControlClient(http.DefaultClient, f.url, token)
		_, err := client.Status(context.Background(), "")
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	}
}

func TestControlService_ToggleNotification(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		kind     string
		wantCode connect.Code
		wantLen  int
	}{
		{name: "all monitors", user: "", kind: "song", wantLen: 2},
		{name: "one monitor", user: "alice", kind: "active", wantLen: 1},
		{name: "missing kind", user: "alice", kind: "", wantCode: connect.CodeInvalidArgument},
		{name: "unknown kind", user: "alice", kind: "podcast", wantCode: connect.CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			resp, err := f.client.ToggleNotification(context.Background(), tt.user, tt.kind)
			if tt.wantCode != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, connect.CodeOf(err))
				return
			}
			require.NoError(t, err)

			got := results(t, resp, "results")
			require.Len(t, got, tt.wantLen)
			for _, r := range got {
				assert.Equal(t, tt.kind, r.GetFields()["kind"].GetStringValue())
				assert.True(t, r.GetFields()["enabled"].GetBoolValue())
			}
		})
	}
}

func TestControlService_AdjustInactivity(t *testing.T) {
	f := newFixture(t)

	resp, err := f.client.AdjustInactivity(context.Background(), "alice", -2)
	require.NoError(t, err)
	got := results(t, resp, "results")
	require.Len(t, got, 1)
	assert.Equal(t, float64(600), got[0].GetFields()["inactivity_sec"].GetNumberValue())

	_, err = f.client.AdjustInactivity(context.Background(), "alice", 0)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestControlService_ReloadWatchlist(t *testing.T) {
	f := newFixture(t)

	resp, err := f.client.ReloadWatchlist(context.Background(), "alice", []string{"Song A", "Song B"})
	require.NoError(t, err)
	got := results(t, resp, "results")
	require.Len(t, got, 1)
	assert.Equal(t, float64(2), got[0].GetFields()["entries"].GetNumberValue())
	assert.True(t, f.alice.currentMatcher().Match("song a"))

	_, err = f.client.ReloadWatchlist(context.Background(), "bob", nil)
	require.NoError(t, err)
	assert.True(t, f.bob.currentMatcher().Match("from file"))

	_, err = f.client.ReloadWatchlist(context.Background(), "alice", nil)
	assert.Error(t, err)
}

func TestControlService_GoMethods(t *testing.T) {
	alice := newFakeController("alice")
	svc := NewControlService([]Controller{alice}, 30*time.Second, nil)

	got, err := svc.Adjust(context.Background(), "", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 690*time.Second, alice.inactivity)

	_, err = svc.Reload(context.Background(), "", nil)
	assert.Error(t, err)
}
