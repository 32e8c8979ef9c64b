package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/spotwatch/internal/domain/fault"
)

const minimalYAML = `
friends:
  - user_uri_id: alice
auth:
  sp_dc: cookie-value
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, MethodCookie, cfg.Auth.Method)
	assert.Equal(t, 10, cfg.Auth.TOTPVersion)
	assert.Equal(t, "header", cfg.Auth.ServerTimeMode)
	assert.Equal(t, 3, cfg.Auth.TokenRetries)
	assert.Equal(t, 30, cfg.Monitor.CheckIntervalSec)
	assert.Equal(t, 660, cfg.Monitor.InactivitySec)
	assert.Equal(t, 360, cfg.Monitor.ActivityCheckSec)
	assert.Equal(t, 120, cfg.Monitor.DisappearedIntervalSec)
	assert.InDelta(t, 0.55, cfg.Monitor.SkippedThreshold, 1e-9)
	assert.Equal(t, 180, cfg.Errors.IntervalSec)
	assert.Equal(t, "https://api.spotify.com/v1/", cfg.Endpoints.API)

	flags := cfg.EnabledNotifications()
	assert.True(t, flags["errors"])
	assert.False(t, flags["active"])
	assert.False(t, flags["song"])
}

func TestParse_ExplicitValuesWin(t *testing.T) {
	data := minimalYAML + `
monitor:
  check_interval_sec: 45
  song_on_loop: 5
notifications:
  active: true
  errors: false
  timezone: UTC
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, 45, cfg.Monitor.CheckIntervalSec)
	assert.Equal(t, 5, cfg.Monitor.SongOnLoop)

	flags := cfg.EnabledNotifications()
	assert.True(t, flags["active"])
	assert.False(t, flags["errors"])
	assert.Equal(t, "UTC", cfg.Location().String())
}

func TestParse_ExplicitZerosWin(t *testing.T) {
	data := minimalYAML + `
  token_retry_delay_sec: 0
monitor:
  alive_interval_sec: 0
  session_gap_tolerance_sec: 0
http:
  retry_max: 0
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Monitor.AliveIntervalSec)
	assert.Equal(t, 0, cfg.Monitor.SessionGapToleranceSec)
	assert.Equal(t, 0, cfg.HTTP.RetryMax)
	assert.Equal(t, 0, cfg.Auth.TokenRetryDelaySec)

	// Fields left out still get their defaults
	assert.Equal(t, 30, cfg.Monitor.CheckIntervalSec)
	assert.Equal(t, 5, cfg.HTTP.RetryWaitMaxSec)
	assert.Equal(t, 3, cfg.Auth.TokenRetries)

	mc := cfg.MonitorFor("alice")
	assert.Zero(t, mc.Settings.AliveInterval)
	assert.Zero(t, mc.Settings.SessionGapTolerance)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "no friends",
			yaml:   "auth:\n  sp_dc: x\n",
			errMsg: "Friends",
		},
		{
			name:   "friend without id",
			yaml:   "friends:\n  - csv_file: a.csv\nauth:\n  sp_dc: x\n",
			errMsg: "UserURIID",
		},
		{
			name:   "cookie method without sp_dc",
			yaml:   "friends:\n  - user_uri_id: alice\n",
			errMsg: "sp_dc",
		},
		{
			name:   "client method without captured requests",
			yaml:   "friends:\n  - user_uri_id: alice\nauth:\n  method: client\n",
			errMsg: "login_request_file",
		},
		{
			name:   "unknown method",
			yaml:   "friends:\n  - user_uri_id: alice\nauth:\n  method: password\n  sp_dc: x\n",
			errMsg: "Method",
		},
		{
			name:   "duplicate friend",
			yaml:   "friends:\n  - user_uri_id: alice\n  - user_uri_id: alice\nauth:\n  sp_dc: x\n",
			errMsg: "more than once",
		},
		{
			name:   "admin without token",
			yaml:   minimalYAML + "admin:\n  addr: \":8080\"\n",
			errMsg: "admin.token",
		},
		{
			name:   "threshold out of range",
			yaml:   minimalYAML + "monitor:\n  skipped_threshold: 1.5\n",
			errMsg: "SkippedThreshold",
		},
		{
			name:   "bad timezone",
			yaml:   minimalYAML + "notifications:\n  timezone: Mars/Olympus\n",
			errMsg: "timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SP_DC_COOKIE", "")
			t.Setenv("ADMIN_TOKEN", "")
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.True(t, errors.Is(err, fault.ErrConfig))
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("SP_DC_COOKIE", "from-env")
	t.Setenv("ADMIN_TOKEN", "secret")
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/spotwatch")

	cfg, err := Parse([]byte(minimalYAML + "admin:\n  addr: \":8080\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.SPDC)
	assert.Equal(t, "secret", cfg.Admin.Token)
	assert.Equal(t, "https://hooks.example.com/spotwatch", cfg.Notifications.Webhook.URL)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spotwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Friends[0].UserURIID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_MonitorFor(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + "monitor:\n  inactivity_sec: 600\n"))
	require.NoError(t, err)

	mc := cfg.MonitorFor("alice")
	assert.Equal(t, "alice", mc.UserURI)
	assert.Equal(t, 30*time.Second, mc.Settings.CheckInterval)
	assert.Equal(t, 600*time.Second, mc.Settings.Inactivity)
	assert.Equal(t, 6*time.Hour, mc.Settings.AliveInterval)
	assert.Equal(t, 120*time.Second, mc.DisappearedInterval)
	assert.Equal(t, 180*time.Second, mc.ErrorInterval)
	assert.Equal(t, 15*time.Second, mc.NetworkRetryInterval)
	assert.Equal(t, 5, mc.ErrorLimit)
	assert.Equal(t, 30*time.Second, cfg.InactivityStep())
}

func TestConfig_CipherOverrides(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + "  ciphers:\n    11: [1, 2, 255]\n"))
	require.NoError(t, err)

	ciphers, err := cfg.CipherOverrides()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 255}, ciphers[11])

	cfg.Auth.Ciphers = map[int][]int{12: {256}}
	_, err = cfg.CipherOverrides()
	assert.Error(t, err)
}
