// Package connect provides the runtime control service.
package connect

import (
	"context"
	"net/http"
	"sort"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/spotwatch/internal/app/monitor"
	"github.com/osa030/spotwatch/internal/infra/watchlist"
)

// ControlServiceName is the fully-qualified name of the control service.
const ControlServiceName = "spotwatch.v1.ControlService"

// Procedure paths.
const (
	StatusProcedure             = "/" + ControlServiceName + "/Status"
	ToggleNotificationProcedure = "/" + ControlServiceName + "/ToggleNotification"
	AdjustInactivityProcedure   = "/" + ControlServiceName + "/AdjustInactivity"
	ReloadWatchlistProcedure    = "/" + ControlServiceName + "/ReloadWatchlist"
)

// Controller is a running monitor.
type Controller interface {
	UserURI() string
	Status() monitor.Status
	ToggleNotification(ctx context.Context, kind string) (bool, error)
	AdjustInactivity(ctx context.Context, delta time.Duration) (time.Duration, error)
	ReloadWatchlist(ctx context.Context, matcher monitor.Matcher) error
}

// WatchlistLoader loads the configured watchlist of a friend. A nil list
// means the friend has none.
type WatchlistLoader func(userURI string) (*watchlist.List, error)

// ControlService dispatches control commands to the monitors.
type ControlService struct {
	monitors map[string]Controller
	users    []string
	step     time.Duration
	loader   WatchlistLoader
}

// NewControlService creates a control service. step is the inactivity
// adjustment applied per AdjustInactivity step.
func NewControlService(controllers []Controller, step time.Duration, loader WatchlistLoader) *ControlService {
	s := &ControlService{
		monitors: make(map[string]Controller, len(controllers)),
		step:     step,
		loader:   loader,
	}
	for _, c := range controllers {
		s.monitors[c.UserURI()] = c
		s.users = append(s.users, c.UserURI())
	}
	sort.Strings(s.users)
	return s
}

// NewHandler returns the path and handler serving the control service.
func NewHandler(svc *ControlService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, svc.handleStatus, opts...))
	mux.Handle(ToggleNotificationProcedure, connect.NewUnaryHandler(ToggleNotificationProcedure, svc.handleToggle, opts...))
	mux.Handle(AdjustInactivityProcedure, connect.NewUnaryHandler(AdjustInactivityProcedure, svc.handleAdjust, opts...))
	mux.Handle(ReloadWatchlistProcedure, connect.NewUnaryHandler(ReloadWatchlistProcedure, svc.handleReload, opts...))
	return "/" + ControlServiceName + "/", mux
}

// Toggle flips a notification kind on the selected monitors. An empty user
// selects every monitor.
func (s *ControlService) Toggle(ctx context.Context, user, kind string) ([]any, error) {
	targets, err := s.targets(user)
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(targets))
	for _, c := range targets {
		enabled, err := c.ToggleNotification(ctx, kind)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to toggle %s notifications for %s", kind, c.UserURI())
		}
		results = append(results, map[string]any{
			"user":    c.UserURI(),
			"kind":    kind,
			"enabled": enabled,
		})
	}
	return results, nil
}

// Adjust moves the inactivity timer of the selected monitors by steps.
func (s *ControlService) Adjust(ctx context.Context, user string, steps int) ([]any, error) {
	targets, err := s.targets(user)
	if err != nil {
		return nil, err
	}

	delta := time.Duration(steps) * s.step
	results := make([]any, 0, len(targets))
	for _, c := range targets {
		inactivity, err := c.AdjustInactivity(ctx, delta)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to adjust inactivity for %s", c.UserURI())
		}
		results = append(results, map[string]any{
			"user":           c.UserURI(),
			"inactivity_sec": int64(inactivity / time.Second),
		})
	}
	return results, nil
}

// Reload replaces the watchlist of the selected monitors. Without entries
// each monitor's configured list is loaded again and monitors without one
// are skipped.
func (s *ControlService) Reload(ctx context.Context, user string, entries []string) ([]any, error) {
	targets, err := s.targets(user)
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(targets))
	for _, c := range targets {
		list := watchlist.New(entries...)
		if entries == nil {
			if s.loader == nil {
				return nil, errors.New("no watchlist loader configured")
			}
			list, err = s.loader(c.UserURI())
			if err != nil {
				return nil, errors.Wrapf(err, "failed to load watchlist for %s", c.UserURI())
			}
			if list == nil {
				continue
			}
		}
		if err := c.ReloadWatchlist(ctx, list); err != nil {
			return nil, errors.Wrapf(err, "failed to reload watchlist for %s", c.UserURI())
		}
		results = append(results, map[string]any{
			"user":    c.UserURI(),
			"entries": list.Len(),
		})
	}
	return results, nil
}

func (s *ControlService) targets(user string) ([]Controller, error) {
	if user == "" {
		out := make([]Controller, 0, len(s.users))
		for _, u := range s.users {
			out = append(out, s.monitors[u])
		}
		return out, nil
	}
	c, ok := s.monitors[user]
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, errors.Newf("no monitor for user %q", user))
	}
	return []Controller{c}, nil
}

func (s *ControlService) handleStatus(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	targets, err := s.targets(stringField(req.Msg, "user"))
	if err != nil {
		return nil, err
	}

	friends := make([]any, 0, len(targets))
	for _, c := range targets {
		friends = append(friends, statusFields(c.Status()))
	}
	return respond(map[string]any{"friends": friends})
}

func (s *ControlService) handleToggle(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	kind := stringField(req.Msg, "kind")
	if kind == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("kind is required"))
	}

	results, err := s.Toggle(ctx, stringField(req.Msg, "user"), kind)
	if err != nil {
		return nil, toConnectError(err)
	}
	zlog.Info().Msgf("control: toggled %s notifications", kind)
	return respond(map[string]any{"results": results})
}

func (s *ControlService) handleAdjust(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	steps := int(numberField(req.Msg, "steps"))
	if steps == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("steps must be non-zero"))
	}

	results, err := s.Adjust(ctx, stringField(req.Msg, "user"), steps)
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{"results": results})
}

func (s *ControlService) handleReload(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var entries []string
	if v, ok := req.Msg.GetFields()["entries"]; ok {
		entries = []string{}
		for _, e := range v.GetListValue().GetValues() {
			entries = append(entries, e.GetStringValue())
		}
	}

	results, err := s.Reload(ctx, stringField(req.Msg, "user"), entries)
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{"results": results})
}

func statusFields(st monitor.Status) map[string]any {
	notifications := make(map[string]any, len(st.Notifications))
	for k, v := range st.Notifications {
		notifications[k] = v
	}

	fields := map[string]any{
		"user":           st.UserURI,
		"username":       st.Username,
		"active":         st.State.IsActive,
		"active_since":   st.State.ActiveSince,
		"last_activity":  st.State.LastEventTimestamp,
		"listened":       st.State.Counters.Listened,
		"skipped":        st.State.Counters.Skipped,
		"looped":         st.State.Counters.Looped,
		"disappeared":    st.State.Disappeared,
		"inactivity_sec": int64(st.Inactivity / time.Second),
		"notifications":  notifications,
		"last_error":     st.LastError,
	}
	if !st.LastPollAt.IsZero() {
		fields["last_poll"] = st.LastPollAt.Format(time.RFC3339)
	}
	return fields
}

func respond(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func toConnectError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func numberField(s *structpb.Struct, name string) float64 {
	return s.GetFields()[name].GetNumberValue()
}
