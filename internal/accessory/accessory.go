// Package accessory models one remote device exposed to the host as an
// accessory, and its power and volume capabilities.
package accessory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-spotify/internal/events"
	"github.com/joshp123/gohome-spotify/internal/remote"
)

// DefaultVolume is reported whenever the real volume cannot be read.
const DefaultVolume = 50

var namespace = uuid.MustParse("6f1d3c8e-2b9a-5d47-9e61-0c4a7b2f8e35")

// UUIDFor derives the stable accessory UUID for a device.
func UUIDFor(deviceID string) string {
	return uuid.NewSHA1(namespace, []byte(deviceID)).String()
}

// Fader is the subset of the volume fader the accessory drives.
type Fader interface {
	Start(ctx context.Context, deviceID string, durationSeconds int) error
	Cancel(deviceID string)
}

// PowerNotifier receives polled power values for the host's cached state.
type PowerNotifier interface {
	UpdatePower(uuid string, on bool)
}

// Deps are shared by every accessory of one plugin.
type Deps struct {
	Client      remote.Client
	Fader       Fader
	Notifier    PowerNotifier
	Events      events.Publisher
	Kind        string
	FadeSeconds int
	Now         func() time.Time
	Logger      zerolog.Logger
}

type Accessory struct {
	deviceID string
	name     string
	uuid     string
	deps     Deps
	logger   zerolog.Logger

	mu         sync.Mutex
	power      bool
	powerKnown bool
}

func New(device remote.Device, deps Deps) *Accessory {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Accessory{
		deviceID: device.ID,
		name:     device.Name,
		uuid:     UUIDFor(device.ID),
		deps:     deps,
		logger:   deps.Logger.With().Str("component", "accessory").Str("device_id", device.ID).Logger(),
	}
}

func (a *Accessory) UUID() string        { return a.uuid }
func (a *Accessory) DisplayName() string { return a.name }
func (a *Accessory) DeviceID() string    { return a.deviceID }
func (a *Accessory) Kind() string        { return a.deps.Kind }

// LastPower returns the most recent known power value.
func (a *Accessory) LastPower() (on bool, known bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.power, a.powerKnown
}

// PowerGet reports whether playback is running on this device. Failures
// report off.
func (a *Accessory) PowerGet(ctx context.Context) bool {
	state, err := a.deps.Client.GetPlaybackState(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("read playback state failed")
		return false
	}
	return state.IsPlaying && state.ActiveDeviceID == a.deviceID
}

// PowerSet starts or pauses playback on this device. Powering on starts the
// volume fade first so playback begins silent; powering off cancels it first.
func (a *Accessory) PowerSet(ctx context.Context, on bool) error {
	if on {
		if a.deps.Fader != nil {
			if err := a.deps.Fader.Start(ctx, a.deviceID, a.deps.FadeSeconds); err != nil {
				a.logger.Warn().Err(err).Msg("start fade failed")
			}
		}
		if err := a.deps.Client.Play(ctx, a.deviceID); err != nil {
			if a.deps.Fader != nil {
				a.deps.Fader.Cancel(a.deviceID)
			}
			return err
		}
	} else {
		if a.deps.Fader != nil {
			a.deps.Fader.Cancel(a.deviceID)
		}
		if err := a.deps.Client.Pause(ctx, a.deviceID); err != nil {
			return err
		}
	}
	a.recordPower(ctx, on)
	return nil
}

// VolumeGet reads the device volume from the device listing, falling back to
// DefaultVolume.
func (a *Accessory) VolumeGet(ctx context.Context) int {
	devices, err := a.deps.Client.ListDevices(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("read volume failed")
		return DefaultVolume
	}
	for _, device := range devices {
		if device.ID == a.deviceID {
			return device.VolumePercent
		}
	}
	return DefaultVolume
}

// VolumeSet clamps percent to 0..100 and applies it.
func (a *Accessory) VolumeSet(ctx context.Context, percent int) error {
	return a.deps.Client.SetVolume(ctx, a.deviceID, clamp(percent))
}

// CheckOn reads power and pushes the result to the host.
func (a *Accessory) CheckOn(ctx context.Context) bool {
	on := a.PowerGet(ctx)
	if a.deps.Notifier != nil {
		a.deps.Notifier.UpdatePower(a.uuid, on)
	}
	a.recordPower(ctx, on)
	return on
}

func (a *Accessory) recordPower(ctx context.Context, on bool) {
	a.mu.Lock()
	changed := !a.powerKnown || a.power != on
	a.power = on
	a.powerKnown = true
	a.mu.Unlock()

	if !changed {
		return
	}
	if err := a.deps.Events.Publish(ctx, events.Power(a.deviceID, a.name, on, a.deps.Now())); err != nil {
		a.logger.Warn().Err(err).Msg("publish power event failed")
	}
}

func clamp(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}
