//go:build windows

package main

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	apiconnect "github.com/osa030/spotwatch/internal/api/connect"
)

// handleSignals is a no-op on windows; use the control API instead.
func handleSignals(ctx context.Context, control *apiconnect.ControlService) {
	zlog.Debug().Msg("Control signals are not supported on windows")
}
