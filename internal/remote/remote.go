// Package remote defines the cloud device API the reconciler, accessories and
// fader depend on. plugins/spotify provides the implementation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Device is one snapshot of a remote player as reported by a device listing.
type Device struct {
	ID            string
	Name          string
	Type          string
	IsActive      bool
	VolumePercent int
}

// PlaybackState is the account-wide player state.
type PlaybackState struct {
	IsPlaying      bool
	ActiveDeviceID string
}

// DeviceLister lists the devices currently available to the account.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// VolumeSetter sets the volume of a device, 0..100.
type VolumeSetter interface {
	SetVolume(ctx context.Context, deviceID string, percent int) error
}

// Client is the full remote player API.
type Client interface {
	DeviceLister
	VolumeSetter
	GetPlaybackState(ctx context.Context) (PlaybackState, error)
	Play(ctx context.Context, deviceID string) error
	Pause(ctx context.Context, deviceID string) error
}

// TransportError means the request never produced an API response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError means the response body did not match the expected schema.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HTTPStatusError is a non-2xx API response.
type HTTPStatusError struct {
	Op     string
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: api error %d: %s", e.Op, e.Status, strings.TrimSpace(e.Body))
}

// IsTransient reports whether an error is expected to clear by itself on a
// later tick.
func IsTransient(err error) bool {
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var status HTTPStatusError
	if errors.As(err, &status) {
		return status.Status == 429 || status.Status >= 500
	}
	return false
}
