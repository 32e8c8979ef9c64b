package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/spotwatch/internal/domain/fault"
	"github.com/osa030/spotwatch/internal/infra/wire"
)

func TestParseDeviceIdentity(t *testing.T) {
	id, err := ParseDeviceIdentity(LoginRequest(testIdentity, testIdentity.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, testIdentity, id)
}

func TestParseDeviceIdentity_MissingFields(t *testing.T) {
	b := wire.EncodeNestedField(1, wire.EncodeStringField(1, "system-1"))

	_, err := ParseDeviceIdentity(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrDecode))
	assert.Contains(t, err.Error(), "missing field(s): device_id, user_uri_id, refresh_token")
}

func TestParseDeviceFingerprint(t *testing.T) {
	b := wire.Encode(wire.Message{
		1: uint64(1),
		2: wire.Message{1: "1.2.3", 2: "cid", 3: testFingerprint.Platform},
	})

	fp, err := ParseDeviceFingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, testFingerprint, fp)
}

func TestParseDeviceFingerprint_MissingFields(t *testing.T) {
	b := wire.Encode(wire.Message{1: uint64(1), 2: wire.Message{1: "1.2.3"}})

	_, err := ParseDeviceFingerprint(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
	assert.Contains(t, err.Error(), "device_id")
}

func TestLoadDeviceIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "login.bin")
	require.NoError(t, os.WriteFile(path, LoginRequest(testIdentity, testIdentity.RefreshToken), 0o600))

	id, err := LoadDeviceIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserURIID)

	_, err = LoadDeviceIdentity(filepath.Join(dir, "missing.bin"))
	require.Error(t, err)
	assert.Equal(t, fault.ClassConfig, fault.Classify(err))

	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, []byte{0x80}, 0o600))
	_, err = LoadDeviceIdentity(bad)
	require.Error(t, err)
	assert.Equal(t, fault.ClassConfig, fault.Classify(err))
}
