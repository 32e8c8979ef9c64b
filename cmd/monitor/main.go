// Package main provides the monitor entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	apiconnect "github.com/osa030/spotwatch/internal/api/connect"
	"github.com/osa030/spotwatch/internal/infra/config"
	"github.com/osa030/spotwatch/internal/infra/logger"
)

var (
	app        = kingpin.New("spotwatch", "Spotify friend activity monitor")
	configPath = app.Flag("config", "Path to config file").Default("spotwatch.yaml").Envar("SPOTWATCH_CONFIG").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	gops       = app.Flag("gops", "Start the gops diagnostics agent").Bool()

	// list-friends command
	listFriendsCmd = app.Command("list-friends", "List friends visible on the buddy list and exit")

	// token command
	tokenCmd = app.Command("token", "Obtain an access token and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start monitoring (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output:     "stdout",
		Level:      "info",
		MaxSizeMB:  20,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case listFriendsCmd.FullCommand():
		err = listFriends(ctx, cfg)
	case tokenCmd.FullCommand():
		err = printToken(ctx, cfg)
	default:
		err = run(ctx, cfg)
	}
	if err != nil {
		zlog.Error().Msgf("spotwatch: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

// run monitors every configured friend until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	if *gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			zlog.Warn().Msgf("Failed to start gops agent: %v", err)
		} else {
			defer agent.Close()
		}
	}

	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	checkFriends(ctx, cfg, svc)

	monitors, err := svc.buildMonitors(cfg)
	if err != nil {
		return err
	}

	controllers := make([]apiconnect.Controller, 0, len(monitors))
	for _, m := range monitors {
		controllers = append(controllers, m)
	}
	control := apiconnect.NewControlService(controllers, cfg.InactivityStep(), svc.loadWatchlist)

	g, gctx := errgroup.WithContext(ctx)

	for _, m := range monitors {
		m := m
		g.Go(func() error {
			return m.Run(gctx)
		})
	}

	for _, w := range svc.watchers {
		w := w
		g.Go(func() error {
			return w.run(gctx)
		})
	}

	g.Go(func() error {
		handleSignals(gctx, control)
		return nil
	})

	if cfg.Admin.Addr != "" {
		server := newControlServer(cfg, control)
		g.Go(func() error {
			zlog.Info().Msgf("Starting control server: addr=%s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "control server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				zlog.Error().Msgf("Failed to shutdown control server: %v", err)
			}
			return nil
		})
	}

	err = g.Wait()
	zlog.Info().Msg("spotwatch stopped")
	return err
}

func newControlServer(cfg *config.Config, control *apiconnect.ControlService) *http.Server {
	mux := http.NewServeMux()
	path, handler := apiconnect.NewHandler(control,
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)
	mux.Handle(path, handler)

	// h2c (HTTP/2 cleartext) so grpc clients work without TLS
	return &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// checkFriends warns about configured friends missing from the buddy list.
// Startup continues either way; the monitor reports them as not found.
func checkFriends(ctx context.Context, cfg *config.Config, svc *services) {
	cred, err := svc.tokens.AccessToken(ctx)
	if err != nil {
		zlog.Warn().Msgf("Failed to get access token at startup (%s method): %v", svc.tokens.Method(), err)
		return
	}
	friends, err := svc.presence.FriendActivity(ctx, cred)
	if err != nil {
		zlog.Warn().Msgf("Failed to fetch the buddy list at startup: %v", err)
		return
	}

	visible := make(map[string]bool, len(friends))
	for _, f := range friends {
		visible[f.UserURI] = true
	}
	for _, f := range cfg.Friends {
		if visible[f.UserURIID] {
			zlog.Info().Msgf("Friend %s is on the buddy list", f.UserURIID)
		} else {
			zlog.Warn().Msgf("Friend %s is not on the buddy list (%d friends visible)", f.UserURIID, len(friends))
		}
	}
}

// listFriends prints the buddy list.
func listFriends(ctx context.Context, cfg *config.Config) error {
	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	cred, err := svc.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	friends, err := svc.presence.FriendActivity(ctx, cred)
	if err != nil {
		return err
	}

	sort.Slice(friends, func(i, j int) bool { return friends[i].Timestamp > friends[j].Timestamp })

	fmt.Printf("Friends (%d):\n", len(friends))
	for _, f := range friends {
		fmt.Printf("  %-28s %s\n", f.UserURI, f.Username)
		fmt.Printf("  %-28s %s - %s\n", "", f.Artist, f.Track)
		if f.Playlist != "" {
			fmt.Printf("  %-28s context: %s\n", "", f.Playlist)
		}
		fmt.Printf("  %-28s last activity: %s\n", "", humanize.Time(f.LastActivity()))
	}
	return nil
}

// printToken obtains an access token and prints it.
func printToken(ctx context.Context, cfg *config.Config) error {
	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	cred, err := svc.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Method:    %s\n", svc.tokens.Method())
	fmt.Printf("Token:     %s\n", cred.Token)
	fmt.Printf("Client ID: %s\n", cred.ClientID)
	fmt.Printf("Expires:   %s (%s)\n", cred.ExpiresAt.Format(time.DateTime), humanize.Time(cred.ExpiresAt))
	return nil
}
