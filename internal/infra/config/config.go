// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/spotwatch/internal/app/monitor"
	"github.com/osa030/spotwatch/internal/app/notification"
	"github.com/osa030/spotwatch/internal/domain/fault"
)

// Auth methods.
const (
	MethodCookie = "cookie"
	MethodClient = "client"
)

// Config represents the application configuration.
type Config struct {
	Friends       []FriendConfig     `yaml:"friends" validate:"required,min=1,dive"`
	Auth          AuthConfig         `yaml:"auth"`
	Monitor       MonitorConfig      `yaml:"monitor"`
	Errors        ErrorsConfig       `yaml:"errors"`
	Notifications NotificationConfig `yaml:"notifications"`
	History       HistoryConfig      `yaml:"history"`
	Endpoints     EndpointsConfig    `yaml:"endpoints"`
	HTTP          HTTPConfig         `yaml:"http"`
	Admin         AdminConfig        `yaml:"admin"`
}

// FriendConfig represents one monitored friend.
type FriendConfig struct {
	UserURIID string `yaml:"user_uri_id" validate:"required"`
	CSVFile   string `yaml:"csv_file"`
	Watchlist string `yaml:"watchlist"` // Path to the monitored track/playlist/album list
}

// AuthConfig represents access token configuration.
type AuthConfig struct {
	Method                 string        `yaml:"method" default:"cookie" validate:"oneof=cookie client"`
	SPDC                   string        `yaml:"sp_dc"`
	TOTPVersion            int           `yaml:"totp_version" default:"10" validate:"gte=1"`
	ServerTimeMode         string        `yaml:"server_time_mode" default:"header" validate:"oneof=header json"`
	UserAgent              string        `yaml:"user_agent"`
	LoginRequestFile       string        `yaml:"login_request_file"`
	ClientTokenRequestFile string        `yaml:"client_token_request_file"`
	ClientTokenTTLSec      int           `yaml:"client_token_ttl_sec" default:"1209600" validate:"gt=0"`
	TokenRetries           int           `yaml:"token_retries" default:"3" validate:"gte=1,lte=10"`
	TokenRetryDelaySec     int           `yaml:"token_retry_delay_sec" default:"5" validate:"gte=0"`
	Ciphers                map[int][]int `yaml:"ciphers"` // Cipher table overrides keyed by version
}

// MonitorConfig represents the polling state machine configuration.
type MonitorConfig struct {
	CheckIntervalSec       int     `yaml:"check_interval_sec" default:"30" validate:"gte=5"`
	InactivitySec          int     `yaml:"inactivity_sec" default:"660" validate:"gt=0"`
	ActivityCheckSec       int     `yaml:"activity_check_sec" default:"360" validate:"gt=0"`
	DisappearedIntervalSec int     `yaml:"disappeared_interval_sec" default:"120" validate:"gt=0"`
	SongOnLoop             int     `yaml:"song_on_loop" default:"3" validate:"gte=2"`
	SkippedThreshold       float64 `yaml:"skipped_threshold" default:"0.55" validate:"gt=0,lte=1"`
	SessionGapToleranceSec int     `yaml:"session_gap_tolerance_sec" default:"30" validate:"gte=0"`
	DisappearedThreshold   int     `yaml:"disappeared_threshold" default:"3" validate:"gte=1"`
	AliveIntervalSec       int     `yaml:"alive_interval_sec" default:"21600" validate:"gte=0"`
	InactivityStepSec      int     `yaml:"inactivity_step_sec" default:"30" validate:"gt=0"`
	WatchdogSec            int     `yaml:"watchdog_sec" default:"60" validate:"gt=0"`
	RequestTimeoutSec      int     `yaml:"request_timeout_sec" default:"15" validate:"gt=0"`
}

// ErrorsConfig represents error suppression configuration.
type ErrorsConfig struct {
	IntervalSec int `yaml:"interval_sec" default:"180" validate:"gt=0"`
	Limit       int `yaml:"limit" default:"5" validate:"gte=1"`
	WindowSec   int `yaml:"window_sec" default:"240" validate:"gt=0"`
}

// NotificationConfig represents which notifications are enabled at startup.
type NotificationConfig struct {
	Active     bool          `yaml:"active"`
	Inactive   bool          `yaml:"inactive"`
	Song       bool          `yaml:"song"`
	Track      bool          `yaml:"track"`
	Loop       bool          `yaml:"loop"`
	Errors     *bool         `yaml:"errors" default:"true"`
	TimeoutSec int           `yaml:"timeout_sec" default:"10" validate:"gt=0"`
	Timezone   string        `yaml:"timezone"` // IANA name, empty for local time
	Webhook    WebhookConfig `yaml:"webhook"`
}

// WebhookConfig represents the webhook notification sink.
type WebhookConfig struct {
	URL        string            `yaml:"url" validate:"omitempty,url"`
	Headers    map[string]string `yaml:"headers"`
	TimeoutSec int               `yaml:"timeout_sec" default:"10" validate:"gt=0"`
}

// HistoryConfig represents the listening history sinks.
type HistoryConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// EndpointsConfig represents the remote endpoints.
type EndpointsConfig struct {
	Buddylist   string `yaml:"buddylist" default:"https://guc-spclient.spotify.com/presence-view/v1/buddylist" validate:"url"`
	API         string `yaml:"api" default:"https://api.spotify.com/v1/" validate:"url"`
	Token       string `yaml:"token" default:"https://open.spotify.com/api/token" validate:"url"`
	ServerTime  string `yaml:"server_time" default:"https://open.spotify.com/" validate:"url"`
	Login5      string `yaml:"login5" default:"https://login5.spotify.com/v3/login" validate:"url"`
	ClientToken string `yaml:"client_token" default:"https://clienttoken.spotify.com/v1/clienttoken" validate:"url"`
}

// HTTPConfig represents the shared HTTP client.
type HTTPConfig struct {
	RetryMax        int `yaml:"retry_max" default:"2" validate:"gte=0"`
	RetryWaitMinSec int `yaml:"retry_wait_min_sec" default:"1" validate:"gte=0"`
	RetryWaitMaxSec int `yaml:"retry_wait_max_sec" default:"5" validate:"gte=0"`
}

// AdminConfig represents the runtime control API.
type AdminConfig struct {
	Addr  string `yaml:"addr"` // Empty disables the control API
	Token string `yaml:"token"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	return Parse(data)
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	// Defaults first so explicit zeros in the file are kept
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to parse config file"), fault.ErrConfig)
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "config validation failed"), fault.ErrConfig)
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SP_DC_COOKIE"); v != "" {
		c.Auth.SPDC = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		c.Notifications.Webhook.URL = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	switch c.Auth.Method {
	case MethodCookie:
		if c.Auth.SPDC == "" {
			return errors.New("auth.sp_dc (or SP_DC_COOKIE) is required for the cookie method")
		}
	case MethodClient:
		if c.Auth.LoginRequestFile == "" || c.Auth.ClientTokenRequestFile == "" {
			return errors.New("auth.login_request_file and auth.client_token_request_file are required for the client method")
		}
	}

	seen := make(map[string]bool, len(c.Friends))
	for _, f := range c.Friends {
		if seen[f.UserURIID] {
			return errors.Newf("friend %q is listed more than once", f.UserURIID)
		}
		seen[f.UserURIID] = true
	}

	if c.Admin.Addr != "" && c.Admin.Token == "" {
		return errors.New("admin.token (or ADMIN_TOKEN) is required when admin.addr is set")
	}

	if c.Notifications.Timezone != "" {
		if _, err := time.LoadLocation(c.Notifications.Timezone); err != nil {
			return errors.Wrap(err, "invalid notifications.timezone")
		}
	}

	return nil
}

// MonitorFor builds the monitor configuration for one friend.
func (c *Config) MonitorFor(userURIID string) monitor.Config {
	m := c.Monitor
	cfg := monitor.DefaultConfig(userURIID)
	cfg.Settings = monitor.Settings{
		CheckInterval:        seconds(m.CheckIntervalSec),
		Inactivity:           seconds(m.InactivitySec),
		ActivityCheck:        seconds(m.ActivityCheckSec),
		SongOnLoop:           m.SongOnLoop,
		SkipThreshold:        m.SkippedThreshold,
		SessionGapTolerance:  seconds(m.SessionGapToleranceSec),
		DisappearedThreshold: m.DisappearedThreshold,
		AliveInterval:        seconds(m.AliveIntervalSec),
	}
	cfg.DisappearedInterval = seconds(m.DisappearedIntervalSec)
	cfg.ErrorInterval = seconds(c.Errors.IntervalSec)
	cfg.NetworkRetryInterval = seconds(m.RequestTimeoutSec)
	cfg.WatchdogTimeout = seconds(m.WatchdogSec)
	cfg.ErrorLimit = c.Errors.Limit
	cfg.ErrorSpan = seconds(c.Errors.WindowSec)
	return cfg
}

// InactivityStep returns the amount the inactivity timer moves per adjustment.
func (c *Config) InactivityStep() time.Duration {
	return seconds(c.Monitor.InactivityStepSec)
}

// EnabledNotifications returns the startup notification flags keyed by kind.
func (c *Config) EnabledNotifications() map[string]bool {
	n := c.Notifications
	return map[string]bool{
		notification.KindActive:   n.Active,
		notification.KindInactive: n.Inactive,
		notification.KindSong:     n.Song,
		notification.KindTrack:    n.Track,
		notification.KindLoop:     n.Loop,
		notification.KindErrors:   n.Errors == nil || *n.Errors,
	}
}

// Location returns the time zone used in notifications.
func (c *Config) Location() *time.Location {
	if c.Notifications.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Notifications.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// CipherOverrides converts the configured cipher table into byte slices.
func (c *Config) CipherOverrides() (map[int][]byte, error) {
	if len(c.Auth.Ciphers) == 0 {
		return nil, nil
	}
	out := make(map[int][]byte, len(c.Auth.Ciphers))
	for version, values := range c.Auth.Ciphers {
		b := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return nil, errors.Mark(errors.Newf("cipher %d: value %d at index %d is out of byte range", version, v, i), fault.ErrConfig)
			}
			b[i] = byte(v)
		}
		out[version] = b
	}
	return out, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
