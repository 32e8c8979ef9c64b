// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/types/known/structpb"

	apiconnect "github.com/osa030/spotwatch/internal/api/connect"
	"github.com/osa030/spotwatch/internal/app/notification"
	"github.com/osa030/spotwatch/internal/infra/watchlist"
)

var (
	app    = kingpin.New("spotwatch-admincli", "spotwatch control client")
	server = app.Flag("server", "Control server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()
	user   = app.Flag("user", "Friend user URI ID (default: all monitored friends)").Short('u').String()

	// status command
	statusCmd = app.Command("status", "Show monitor status").Default()

	// toggle command
	toggleCmd  = app.Command("toggle", "Toggle a notification kind")
	toggleKind = toggleCmd.Arg("kind", "Notification kind").Required().Enum(notification.Kinds...)

	// inactivity command
	inactivityCmd   = app.Command("inactivity", "Move the inactivity timer by N steps (negative decreases)")
	inactivitySteps = inactivityCmd.Arg("steps", "Number of steps").Required().Int()

	// reload command
	reloadCmd  = app.Command("reload", "Reload the watchlist from its file, or from --file")
	reloadFile = reloadCmd.Flag("file", "Send the entries of this file instead").ExistingFile()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewControlClient(http.DefaultClient, *server, *token)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = status(ctx, client)
	case toggleCmd.FullCommand():
		err = toggle(ctx, client)
	case inactivityCmd.FullCommand():
		err = inactivity(ctx, client)
	case reloadCmd.FullCommand():
		err = reload(ctx, client)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func status(ctx context.Context, client *apiconnect.ControlClient) error {
	resp, err := client.Status(ctx, *user)
	if err != nil {
		return err
	}

	for _, v := range resp.GetFields()["friends"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		fmt.Printf("\n=== %s (%s) ===\n", f["username"].GetStringValue(), f["user"].GetStringValue())

		if f["active"].GetBoolValue() {
			since := time.Unix(int64(f["active_since"].GetNumberValue()), 0)
			fmt.Printf("State: active since %s (%s)\n", since.Format(time.DateTime), humanize.Time(since))
		} else {
			fmt.Println("State: inactive")
		}
		if last := int64(f["last_activity"].GetNumberValue()); last > 0 {
			fmt.Printf("Last activity: %s\n", humanize.Time(time.Unix(last, 0)))
		}
		if f["disappeared"].GetBoolValue() {
			fmt.Println("Friend has disappeared from the buddy list")
		}
		fmt.Printf("Listened: %d, skipped: %d, looped: %d\n",
			int(f["listened"].GetNumberValue()), int(f["skipped"].GetNumberValue()), int(f["looped"].GetNumberValue()))
		fmt.Printf("Inactivity timer: %s\n", time.Duration(f["inactivity_sec"].GetNumberValue())*time.Second)
		fmt.Printf("Notifications: %s\n", formatFlags(f["notifications"].GetStructValue()))
		if poll := f["last_poll"].GetStringValue(); poll != "" {
			fmt.Printf("Last poll: %s\n", poll)
		}
		if e := f["last_error"].GetStringValue(); e != "" {
			fmt.Printf("Last error: %s\n", e)
		}
	}
	fmt.Println()
	return nil
}

func toggle(ctx context.Context, client *apiconnect.ControlClient) error {
	resp, err := client.ToggleNotification(ctx, *user, *toggleKind)
	if err != nil {
		return err
	}
	for _, r := range results(resp) {
		state := "disabled"
		if r["enabled"].GetBoolValue() {
			state = "enabled"
		}
		fmt.Printf("%s: %s notifications %s\n", r["user"].GetStringValue(), r["kind"].GetStringValue(), state)
	}
	return nil
}

func inactivity(ctx context.Context, client *apiconnect.ControlClient) error {
	resp, err := client.AdjustInactivity(ctx, *user, *inactivitySteps)
	if err != nil {
		return err
	}
	for _, r := range results(resp) {
		d := time.Duration(r["inactivity_sec"].GetNumberValue()) * time.Second
		fmt.Printf("%s: inactivity timer is %s\n", r["user"].GetStringValue(), d)
	}
	return nil
}

func reload(ctx context.Context, client *apiconnect.ControlClient) error {
	var entries []string
	if *reloadFile != "" {
		list, err := watchlist.Load(*reloadFile)
		if err != nil {
			return err
		}
		entries = list.Entries()
	}

	resp, err := client.ReloadWatchlist(ctx, *user, entries)
	if err != nil {
		return err
	}
	for _, r := range results(resp) {
		fmt.Printf("%s: %d watchlist entries\n", r["user"].GetStringValue(), int(r["entries"].GetNumberValue()))
	}
	return nil
}

func results(resp *structpb.Struct) []map[string]*structpb.Value {
	var out []map[string]*structpb.Value
	for _, v := range resp.GetFields()["results"].GetListValue().GetValues() {
		out = append(out, v.GetStructValue().GetFields())
	}
	return out
}

func formatFlags(s *structpb.Struct) string {
	var on []string
	for k, v := range s.GetFields() {
		if v.GetBoolValue() {
			on = append(on, k)
		}
	}
	if len(on) == 0 {
		return "none"
	}
	sort.Strings(on)
	return strings.Join(on, ", ")
}
