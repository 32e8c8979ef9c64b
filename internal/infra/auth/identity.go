package auth

import (
	"os"

	"github.com/cockroachdb/errors"

	"github.com/osa030/spotwatch/internal/domain/fault"
	"github.com/osa030/spotwatch/internal/infra/wire"
)

// DeviceIdentity is decoded from a captured device-login request body.
type DeviceIdentity struct {
	DeviceID     string
	SystemID     string
	UserURIID    string
	RefreshToken string
}

// DeviceFingerprint is decoded from a captured client-token request body.
type DeviceFingerprint struct {
	ClientVersion string
	ClientID      string
	DeviceID      string
	Platform      wire.Message // Replayed verbatim in client-token requests
}

type loginCapture struct {
	Client struct {
		SystemID string `mapstructure:"1" field:"system_id" validate:"required"`
		DeviceID string `mapstructure:"2" field:"device_id" validate:"required"`
	} `mapstructure:"1"`
	Stored struct {
		UserURIID    string `mapstructure:"1" field:"user_uri_id" validate:"required"`
		RefreshToken string `mapstructure:"2" field:"refresh_token" validate:"required"`
	} `mapstructure:"100"`
}

type clientTokenCapture struct {
	Data struct {
		ClientVersion string `mapstructure:"1" field:"client_version" validate:"required"`
		ClientID      string `mapstructure:"2" field:"client_id" validate:"required"`
		Platform      struct {
			DeviceID string `mapstructure:"2" field:"device_id" validate:"required"`
		} `mapstructure:"3"`
	} `mapstructure:"2"`
}

// ParseDeviceIdentity decodes a login request body.
func ParseDeviceIdentity(b []byte) (DeviceIdentity, error) {
	msg, err := wire.ParseMessage(b)
	if err != nil {
		return DeviceIdentity{}, err
	}
	var c loginCapture
	if err := wire.Decode(msg, &c); err != nil {
		return DeviceIdentity{}, err
	}
	return DeviceIdentity{
		DeviceID:     c.Client.DeviceID,
		SystemID:     c.Client.SystemID,
		UserURIID:    c.Stored.UserURIID,
		RefreshToken: c.Stored.RefreshToken,
	}, nil
}

// ParseDeviceFingerprint decodes a client-token request body.
func ParseDeviceFingerprint(b []byte) (DeviceFingerprint, error) {
	msg, err := wire.ParseMessage(b)
	if err != nil {
		return DeviceFingerprint{}, err
	}
	var c clientTokenCapture
	if err := wire.Decode(msg, &c); err != nil {
		return DeviceFingerprint{}, err
	}
	data, _ := msg.Message(2)
	platform, _ := data.Message(3)
	return DeviceFingerprint{
		ClientVersion: c.Data.ClientVersion,
		ClientID:      c.Data.ClientID,
		DeviceID:      c.Data.Platform.DeviceID,
		Platform:      platform,
	}, nil
}

// LoadDeviceIdentity reads and decodes a captured login request file.
func LoadDeviceIdentity(path string) (DeviceIdentity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return DeviceIdentity{}, errors.Mark(errors.Wrapf(err, "failed to read login capture %s", path), fault.ErrConfig)
	}
	id, err := ParseDeviceIdentity(b)
	if err != nil {
		return DeviceIdentity{}, errors.Mark(errors.Wrapf(err, "invalid login capture %s", path), fault.ErrConfig)
	}
	return id, nil
}

// LoadDeviceFingerprint reads and decodes a captured client-token request file.
func LoadDeviceFingerprint(path string) (DeviceFingerprint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return DeviceFingerprint{}, errors.Mark(errors.Wrapf(err, "failed to read client token capture %s", path), fault.ErrConfig)
	}
	fp, err := ParseDeviceFingerprint(b)
	if err != nil {
		return DeviceFingerprint{}, errors.Mark(errors.Wrapf(err, "invalid client token capture %s", path), fault.ErrConfig)
	}
	return fp, nil
}
