package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// ControlClient calls the control service.
type ControlClient struct {
	token  string
	status *connect.Client[structpb.Struct, structpb.Struct]
	toggle *connect.Client[structpb.Struct, structpb.Struct]
	adjust *connect.Client[structpb.Struct, structpb.Struct]
	reload *connect.Client[structpb.Struct, structpb.Struct]
}

// NewControlClient creates a client for the service at baseURL.
func NewControlClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *ControlClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &ControlClient{
		token:  token,
		status: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+StatusProcedure, opts...),
		toggle: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ToggleNotificationProcedure, opts...),
		adjust: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+AdjustInactivityProcedure, opts...),
		reload: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ReloadWatchlistProcedure, opts...),
	}
}

// Status returns the status of one friend, or all when user is empty.
func (c *ControlClient) Status(ctx context.Context, user string) (*structpb.Struct, error) {
	return c.call(ctx, c.status, map[string]any{"user": user})
}

// ToggleNotification flips a notification kind.
func (c *ControlClient) ToggleNotification(ctx context.Context, user, kind string) (*structpb.Struct, error) {
	return c.call(ctx, c.toggle, map[string]any{"user": user, "kind": kind})
}

// AdjustInactivity moves the inactivity timer by steps.
func (c *ControlClient) AdjustInactivity(ctx context.Context, user string, steps int) (*structpb.Struct, error) {
	return c.call(ctx, c.adjust, map[string]any{"user": user, "steps": steps})
}

// ReloadWatchlist reloads the watchlist. A nil entries slice reloads the
// configured file.
func (c *ControlClient) ReloadWatchlist(ctx context.Context, user string, entries []string) (*structpb.Struct, error) {
	fields := map[string]any{"user": user}
	if entries != nil {
		list := make([]any, len(entries))
		for i, e := range entries {
			list[i] = e
		}
		fields["entries"] = list
	}
	return c.call(ctx, c.reload, fields)
}

func (c *ControlClient) call(ctx context.Context, client *connect.Client[structpb.Struct, structpb.Struct], fields map[string]any) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	req := connect.NewRequest(msg)
	req.Header().Set(AdminTokenHeader, c.token)
	resp, err := client.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
