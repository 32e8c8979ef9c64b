// Package httpx builds the retrying HTTP clients shared by the token
// provider, the presence client and the webhook sink.
package httpx

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Options configures a client.
type Options struct {
	Timeout      time.Duration // Per attempt
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Timeout:      15 * time.Second,
		RetryMax:     1,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 3 * time.Second,
	}
}

// NewRetryable creates a retryablehttp client. After the last attempt the
// final response is returned as is, so callers still see the status code.
func NewRetryable(opts Options) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		c.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		c.RetryWaitMax = opts.RetryWaitMax
	}
	c.HTTPClient.Timeout = opts.Timeout
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = leveledLogger{}
	return c
}

// NewClient creates a standard *http.Client backed by a retryable transport.
func NewClient(opts Options) *http.Client {
	return NewRetryable(opts).StandardClient()
}

// leveledLogger routes retryablehttp logging to the global zerolog logger.
// Request-level chatter is kept at debug.
type leveledLogger struct{}

func (leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	logKV(zlog.Warn(), msg, keysAndValues)
}

func (leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	logKV(zlog.Debug(), msg, keysAndValues)
}

func (leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	logKV(zlog.Trace(), msg, keysAndValues)
}

func (leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	logKV(zlog.Trace(), msg, keysAndValues)
}

func logKV(ev *zerolog.Event, msg string, keysAndValues []interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ev = ev.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	ev.Msg("http: " + msg)
}
