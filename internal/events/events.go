// Package events publishes accessory lifecycle and power changes for other
// home automation consumers.
package events

import (
	"context"
	"errors"
	"time"
)

type Type string

const (
	TypeRegistered   Type = "registered"
	TypeUnregistered Type = "unregistered"
	TypePower        Type = "power"
)

// Event describes one accessory change. On is set for power events only.
type Event struct {
	Type     Type      `json:"type"`
	DeviceID string    `json:"device_id"`
	Name     string    `json:"name"`
	On       *bool     `json:"on,omitempty"`
	At       time.Time `json:"at"`
}

// Power builds a power event.
func Power(deviceID, name string, on bool, at time.Time) Event {
	return Event{Type: TypePower, DeviceID: deviceID, Name: name, On: &on, At: at}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
