//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	zlog "github.com/rs/zerolog/log"

	apiconnect "github.com/osa030/spotwatch/internal/api/connect"
	"github.com/osa030/spotwatch/internal/app/notification"
)

// handleSignals translates control signals into commands for every monitor
// until ctx is done.
//
//	SIGUSR1  toggle active/inactive notifications
//	SIGUSR2  toggle song notifications
//	SIGCONT  toggle tracked song notifications
//	SIGTRAP  increase the inactivity timer
//	SIGABRT  decrease the inactivity timer
//	SIGHUP   reload the watchlists
func handleSignals(ctx context.Context, control *apiconnect.ControlService) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGCONT, syscall.SIGTRAP, syscall.SIGABRT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			zlog.Info().Msgf("Received %s", sig)
			if err := dispatchSignal(ctx, control, sig); err != nil && ctx.Err() == nil {
				zlog.Warn().Msgf("Failed to handle %s: %v", sig, err)
			}
		}
	}
}

func dispatchSignal(ctx context.Context, control *apiconnect.ControlService, sig os.Signal) error {
	var err error
	switch sig {
	case syscall.SIGUSR1:
		if _, err = control.Toggle(ctx, "", notification.KindActive); err == nil {
			_, err = control.Toggle(ctx, "", notification.KindInactive)
		}
	case syscall.SIGUSR2:
		_, err = control.Toggle(ctx, "", notification.KindSong)
	case syscall.SIGCONT:
		_, err = control.Toggle(ctx, "", notification.KindTrack)
	case syscall.SIGTRAP:
		_, err = control.Adjust(ctx, "", 1)
	case syscall.SIGABRT:
		_, err = control.Adjust(ctx, "", -1)
	case syscall.SIGHUP:
		_, err = control.Reload(ctx, "", nil)
	}
	return err
}
