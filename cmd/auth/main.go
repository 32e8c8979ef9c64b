// Package main provides the credential inspection tool.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/osa030/spotwatch/internal/infra/auth"
	"github.com/osa030/spotwatch/internal/infra/httpx"
	"github.com/osa030/spotwatch/internal/infra/totp"
	"github.com/osa030/spotwatch/internal/infra/wire"
)

var (
	app = kingpin.New("spotwatch-auth", "Credential tooling for spotwatch")

	// decode command
	decodeCmd  = app.Command("decode", "Dump a captured protobuf request or response body")
	decodeFile = decodeCmd.Arg("file", "Captured body").Required().ExistingFile()

	// identity command
	identityCmd         = app.Command("identity", "Check the captured request files used by the client method")
	identityLogin       = identityCmd.Flag("login-request", "Captured login request body").Required().ExistingFile()
	identityClientToken = identityCmd.Flag("client-token-request", "Captured client token request body").Required().ExistingFile()

	// totp command
	totpCmd     = app.Command("totp", "Print the TOTP code for a cipher version")
	totpVersion = totpCmd.Flag("version", "Cipher version").Default(fmt.Sprint(totp.DefaultVersion)).Int()

	// cookie command
	cookieCmd     = app.Command("cookie", "Exchange an sp_dc cookie for an access token")
	cookieSPDC    = cookieCmd.Flag("sp-dc", "sp_dc cookie value").Envar("SP_DC_COOKIE").Required().String()
	cookieVersion = cookieCmd.Flag("version", "Cipher version").Default(fmt.Sprint(totp.DefaultVersion)).Int()
	cookieMode    = cookieCmd.Flag("server-time", "Server time mode").Default(totp.ModeHeader).Enum(totp.ModeHeader, totp.ModeJSON)
)

const (
	tokenURL      = "https://open.spotify.com/api/token"
	serverTimeURL = "https://open.spotify.com/"
	apiURL        = "https://api.spotify.com/v1/"
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	var err error
	switch command {
	case decodeCmd.FullCommand():
		err = decode(*decodeFile)
	case identityCmd.FullCommand():
		err = identity(*identityLogin, *identityClientToken)
	case totpCmd.FullCommand():
		err = printTOTP(*totpVersion)
	case cookieCmd.FullCommand():
		err = cookie()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func decode(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	msg, err := wire.ParseMessage(data)
	if err != nil {
		return err
	}
	dump(msg, 0)
	return nil
}

func dump(msg wire.Message, depth int) {
	tags := make([]int, 0, len(msg))
	for tag := range msg {
		tags = append(tags, tag)
	}
	sort.Ints(tags)

	indent := strings.Repeat("  ", depth)
	for _, tag := range tags {
		switch v := msg[tag].(type) {
		case wire.Message:
			fmt.Printf("%s%d: {\n", indent, tag)
			dump(v, depth+1)
			fmt.Printf("%s}\n", indent)
		case string:
			fmt.Printf("%s%d: %q\n", indent, tag, v)
		default:
			fmt.Printf("%s%d: %v\n", indent, tag, v)
		}
	}
}

func identity(loginPath, clientTokenPath string) error {
	id, err := auth.LoadDeviceIdentity(loginPath)
	if err != nil {
		return err
	}
	fp, err := auth.LoadDeviceFingerprint(clientTokenPath)
	if err != nil {
		return err
	}

	fmt.Println("=== Login request ===")
	fmt.Printf("  Device ID:     %s\n", id.DeviceID)
	fmt.Printf("  System ID:     %s\n", id.SystemID)
	fmt.Printf("  User URI ID:   %s\n", id.UserURIID)
	fmt.Printf("  Refresh token: %s\n", mask(id.RefreshToken))
	fmt.Println("=== Client token request ===")
	fmt.Printf("  Client version: %s\n", fp.ClientVersion)
	fmt.Printf("  Client ID:      %s\n", fp.ClientID)
	fmt.Printf("  Device ID:      %s\n", fp.DeviceID)

	if id.DeviceID != fp.DeviceID {
		fmt.Println("Warning: the device IDs of the two captures differ")
	}
	return nil
}

func printTOTP(version int) error {
	gen, err := totp.NewGenerator(version, nil)
	if err != nil {
		return err
	}
	code, err := gen.At(time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Version: %d\n", gen.Version())
	fmt.Printf("Secret:  %s\n", gen.Secret())
	fmt.Printf("Code:    %s (local clock)\n", code)
	return nil
}

func cookie() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := httpx.NewClient(httpx.DefaultOptions())
	ua := auth.RandomUserAgent()
	prober := auth.NewMeProber(client, apiURL, ua)
	strategy, err := auth.NewCookieStrategy(client, prober, auth.CookieConfig{
		SPDC:           *cookieSPDC,
		TokenURL:       tokenURL,
		ServerTimeURL:  serverTimeURL,
		ServerTimeMode: *cookieMode,
		UserAgent:      ua,
		TOTPVersion:    *cookieVersion,
	})
	if err != nil {
		return err
	}

	cred, err := strategy.Refresh(ctx)
	if err != nil {
		return err
	}

	fmt.Println("=== Access token ===")
	fmt.Printf("Token:     %s\n", cred.Token)
	fmt.Printf("Client ID: %s\n", cred.ClientID)
	fmt.Printf("Expires:   %s\n", cred.ExpiresAt.Format(time.DateTime))
	fmt.Printf("Accepted:  %v\n", prober.Validate(ctx, cred))
	return nil
}

func mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
