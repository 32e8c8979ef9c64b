// Package fault defines the error taxonomy shared by the token provider,
// the presence client and the activity monitor.
package fault

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

// Marks attached to errors with errors.Mark. Use errors.Is to test them.
var (
	ErrAuth      = errors.New("authentication error")
	ErrTransient = errors.New("transient network error")
	ErrServer    = errors.New("server error")
	ErrDecode    = errors.New("protocol decode error")
	ErrConfig    = errors.New("configuration error")
)

// Class is the category an error falls into at the poll boundary.
type Class int

const (
	ClassUnknown   Class = iota // Anything not matched below
	ClassAuth                   // Token invalid, expired or revoked
	ClassTransient              // Timeouts, DNS failures, rate limiting
	ClassServer                 // Upstream 5xx
	ClassDecode                 // Malformed binary response
	ClassConfig                 // Missing identity fields and similar
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassTransient:
		return "network"
	case ClassServer:
		return "server"
	case ClassDecode:
		return "decode"
	case ClassConfig:
		return "config"
	default:
		return "error"
	}
}

// Status codes only count as whole tokens so IDs such as 7x401Q do not match.
var (
	serverStatus    = regexp.MustCompile(`\b50[0234]\b`)
	transientStatus = regexp.MustCompile(`\b429\b`)
	authStatus      = regexp.MustCompile(`\b401\b`)
)

var serverKeywords = []string{
	"Internal Server Error", "Bad Gateway", "Service Unavailable", "Gateway Timeout",
}

var transientKeywords = []string{
	"timeout", "timed out", "Timeout", "deadline exceeded",
	"no such host", "Temporary failure in name resolution", "Name or service not known",
	"connection refused", "connection reset", "network is unreachable",
	"Too Many Requests", "rate limit",
	"Read timed out", "Max retries exceeded", "unexpected EOF",
}

var authKeywords = []string{
	"access token", "Unauthorized",
	"invalid token", "token expired", "expired token", "revoked",
}

// Classify returns the class of err. Marks take precedence; the keyword sets
// are a fallback for errors whose only signal is their text.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	switch {
	case errors.Is(err, ErrConfig):
		return ClassConfig
	case errors.Is(err, ErrDecode):
		return ClassDecode
	case errors.Is(err, ErrAuth):
		return ClassAuth
	case errors.Is(err, ErrServer):
		return ClassServer
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	msg := err.Error()
	// Server keywords first: "504 Gateway Timeout" must not count as a network timeout.
	if serverStatus.MatchString(msg) || containsAny(msg, serverKeywords) {
		return ClassServer
	}
	if authStatus.MatchString(msg) || containsAny(msg, authKeywords) {
		return ClassAuth
	}
	if transientStatus.MatchString(msg) || containsAny(msg, transientKeywords) {
		return ClassTransient
	}
	return ClassUnknown
}

// FromStatus wraps err with the mark matching an HTTP status code.
// Statuses that carry no class are returned unmarked.
func FromStatus(err error, status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.Mark(err, ErrAuth)
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return errors.Mark(err, ErrTransient)
	case status >= 500:
		return errors.Mark(err, ErrServer)
	default:
		return err
	}
}

// StatusError builds a marked error for an unexpected HTTP status.
func StatusError(op string, status int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 256 {
		body = body[:256]
	}
	var err error
	if body != "" {
		err = errors.Newf("%s: %d %s: %s", op, status, http.StatusText(status), body)
	} else {
		err = errors.Newf("%s: %d %s", op, status, http.StatusText(status))
	}
	return FromStatus(err, status)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
