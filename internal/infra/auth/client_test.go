package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/spotwatch/internal/domain/fault"
	"github.com/osa030/spotwatch/internal/infra/wire"
)

var testIdentity = DeviceIdentity{
	DeviceID:     "device-1",
	SystemID:     "system-1",
	UserURIID:    "alice",
	RefreshToken: "refresh-1",
}

var testFingerprint = DeviceFingerprint{
	ClientVersion: "1.2.3",
	ClientID:      "cid",
	DeviceID:      "device-1",
	Platform:      wire.Message{1: wire.Message{1: "linux"}, 2: "device-1"},
}

type loginServer struct {
	*httptest.Server
	mu               sync.Mutex
	clientTokenCalls int
	loginCalls       int
	refreshTokens    []string
	login            func(w http.ResponseWriter, n int, clientToken string)
}

func newLoginServer(t *testing.T, login func(w http.ResponseWriter, n int, clientToken string)) *loginServer {
	ls := &loginServer{login: login}
	mux := http.NewServeMux()
	mux.HandleFunc("/clienttoken", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		msg, err := wire.ParseMessage(b)
		assert.NoError(t, err)
		assert.Equal(t, uint64(1), msg[1])
		data, _ := msg.Message(2)
		assert.Equal(t, "1.2.3", data[1])
		assert.Equal(t, "cid", data[2])
		assert.Equal(t, testFingerprint.Platform, data[3])

		ls.mu.Lock()
		ls.clientTokenCalls++
		n := ls.clientTokenCalls
		ls.mu.Unlock()

		_, _ = w.Write(wire.Encode(wire.Message{
			1: uint64(1),
			2: wire.Message{1: "ct-" + string(rune('0'+n)), 2: uint64(1209600)},
		}))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		msg, err := wire.ParseMessage(b)
		assert.NoError(t, err)
		client, _ := msg.Message(1)
		assert.Equal(t, "system-1", client[1])
		assert.Equal(t, "device-1", client[2])
		stored, _ := msg.Message(100)
		assert.Equal(t, "alice", stored[1])
		refresh, _ := stored.String(2)

		ls.mu.Lock()
		ls.loginCalls++
		n := ls.loginCalls
		ls.refreshTokens = append(ls.refreshTokens, refresh)
		ls.mu.Unlock()

		ls.login(w, n, r.Header.Get("Client-Token"))
	})
	ls.Server = httptest.NewServer(mux)
	return ls
}

func (ls *loginServer) counts() (clientToken, login int, refreshTokens []string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.clientTokenCalls, ls.loginCalls, append([]string(nil), ls.refreshTokens...)
}

func writeLoginOk(w http.ResponseWriter, access, refresh string, expiresIn uint64) {
	ok := wire.Message{2: access}
	if refresh != "" {
		ok[3] = refresh
	}
	if expiresIn > 0 {
		ok[4] = expiresIn
	}
	_, _ = w.Write(wire.Encode(wire.Message{1: ok}))
}

func newClientStrategy(ls *loginServer, now time.Time) *ClientStrategy {
	tokens := NewClientTokenSource(ls.Client(), ls.URL+"/clienttoken", testFingerprint, 0, "")
	tokens.now = func() time.Time { return now }
	s := NewClientStrategy(ls.Client(), ls.URL+"/login", testIdentity, testFingerprint, tokens, "")
	s.now = func() time.Time { return now }
	return s
}

func TestClientStrategy_Refresh(t *testing.T) {
	ls := newLoginServer(t, func(w http.ResponseWriter, n int, clientToken string) {
		assert.Equal(t, "ct-1", clientToken)
		writeLoginOk(w, "access-"+string(rune('0'+n)), "refresh-"+string(rune('1'+n)), 1800)
	})
	defer ls.Close()

	s := newClientStrategy(ls, baseTime)
	cred, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", cred.Token)
	assert.Equal(t, "cid", cred.ClientID)
	assert.Equal(t, baseTime.Add(30*time.Minute), cred.ExpiresAt)

	cred, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", cred.Token)

	clientTokenCalls, loginCalls, refreshTokens := ls.counts()
	assert.Equal(t, 1, clientTokenCalls, "client token is cached")
	assert.Equal(t, 2, loginCalls)
	assert.Equal(t, []string{"refresh-1", "refresh-2"}, refreshTokens, "new refresh token replaces the captured one")
}

func TestClientStrategy_DefaultExpiry(t *testing.T) {
	ls := newLoginServer(t, func(w http.ResponseWriter, n int, clientToken string) {
		writeLoginOk(w, "access", "", 0)
	})
	defer ls.Close()

	cred, err := newClientStrategy(ls, baseTime).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(time.Hour), cred.ExpiresAt)
}

func TestClientStrategy_ClientTokenRejected(t *testing.T) {
	tests := []struct {
		name   string
		reject func(w http.ResponseWriter)
	}{
		{
			name:   "401",
			reject: func(w http.ResponseWriter) { w.WriteHeader(http.StatusUnauthorized) },
		},
		{
			name: "expired client token body",
			reject: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("Client token expired"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls := newLoginServer(t, func(w http.ResponseWriter, n int, clientToken string) {
				if clientToken == "ct-1" {
					tt.reject(w)
					return
				}
				writeLoginOk(w, "access", "", 0)
			})
			defer ls.Close()

			cred, err := newClientStrategy(ls, baseTime).Refresh(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "access", cred.Token)

			clientTokenCalls, loginCalls, _ := ls.counts()
			assert.Equal(t, 2, clientTokenCalls)
			assert.Equal(t, 2, loginCalls)
		})
	}
}

func TestClientStrategy_LoginError(t *testing.T) {
	ls := newLoginServer(t, func(w http.ResponseWriter, n int, clientToken string) {
		_, _ = w.Write(wire.Encode(wire.Message{2: uint64(1)}))
	})
	defer ls.Close()

	_, err := newClientStrategy(ls, baseTime).Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrAuth))
}

func TestClientStrategy_MalformedResponse(t *testing.T) {
	ls := newLoginServer(t, func(w http.ResponseWriter, n int, clientToken string) {
		_, _ = w.Write([]byte{0x0a, 0x05, 'a'})
	})
	defer ls.Close()

	_, err := newClientStrategy(ls, baseTime).Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.ClassDecode, fault.Classify(err))
}

func TestClientTokenSource_Expiry(t *testing.T) {
	ls := newLoginServer(t, nil)
	defer ls.Close()

	now := baseTime
	tokens := NewClientTokenSource(ls.Client(), ls.URL+"/clienttoken", testFingerprint, time.Hour, "")
	tokens.now = func() time.Time { return now }

	token, err := tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ct-1", token)

	now = baseTime.Add(59 * time.Minute)
	token, err = tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ct-1", token, "configured TTL is shorter than the server expiry")

	now = baseTime.Add(time.Hour)
	token, err = tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ct-2", token)
}

func TestIsClientTokenRejection(t *testing.T) {
	assert.True(t, isClientTokenRejection(http.StatusUnauthorized, ""))
	assert.True(t, isClientTokenRejection(http.StatusBadRequest, `{"error":"invalid client_token"}`))
	assert.False(t, isClientTokenRejection(http.StatusBadRequest, "bad request"))
	assert.False(t, isClientTokenRejection(http.StatusOK, "client token expired"))
}
