// Package fader ramps a device's volume from silent to full after power-on.
package fader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-spotify/internal/clock"
	"github.com/joshp123/gohome-spotify/internal/remote"
)

const (
	MaxVolume = 100
	StepSize  = 10
)

// FadeState is a snapshot of one running ramp.
type FadeState struct {
	DeviceID  string        `json:"device_id"`
	Volume    int           `json:"volume"`
	Interval  time.Duration `json:"interval"`
	StartedAt time.Time     `json:"started_at"`
}

// Fader runs at most one volume ramp per device.
type Fader struct {
	setter remote.VolumeSetter
	clock  clock.Clock
	logger zerolog.Logger

	mu    sync.Mutex
	fades map[string]*fade
	wg    sync.WaitGroup
}

type fade struct {
	state  FadeState
	ticker clock.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (f *fade) cancel() bool {
	cancelled := false
	f.once.Do(func() {
		close(f.stop)
		f.ticker.Stop()
		cancelled = true
	})
	return cancelled
}

func New(setter remote.VolumeSetter, c clock.Clock, logger zerolog.Logger) *Fader {
	if c == nil {
		c = clock.Real{}
	}
	return &Fader{
		setter: setter,
		clock:  c,
		logger: logger.With().Str("component", "fader").Logger(),
		fades:  make(map[string]*fade),
	}
}

// StepInterval is the time between volume steps for a ramp lasting
// durationSeconds.
func StepInterval(durationSeconds int) time.Duration {
	return time.Duration(durationSeconds) * time.Second / (MaxVolume / StepSize)
}

// Start cancels any running ramp for the device and begins a new one. A zero
// duration only cancels. The first SetVolume(0) runs before Start returns.
// The ramp is registered before that call, so a Cancel issued while it is in
// flight keeps the ramp from ever stepping.
func (f *Fader) Start(ctx context.Context, deviceID string, durationSeconds int) error {
	if durationSeconds < 0 {
		return fmt.Errorf("fade duration must not be negative, got %d", durationSeconds)
	}
	if durationSeconds == 0 {
		f.Cancel(deviceID)
		return nil
	}

	interval := StepInterval(durationSeconds)
	ramp := &fade{
		state: FadeState{
			DeviceID:  deviceID,
			Interval:  interval,
			StartedAt: f.clock.Now(),
		},
		ticker: f.clock.NewTicker(interval),
		stop:   make(chan struct{}),
	}

	f.mu.Lock()
	if previous, ok := f.fades[deviceID]; ok && previous.cancel() {
		fadesCancelled.Inc()
	}
	f.fades[deviceID] = ramp
	f.mu.Unlock()

	if err := f.setter.SetVolume(ctx, deviceID, 0); err != nil {
		stepFailures.Inc()
		f.logger.Warn().Err(err).Str("device_id", deviceID).Msg("fade: initial volume step failed")
	}

	f.mu.Lock()
	select {
	case <-ramp.stop:
		f.mu.Unlock()
		f.logger.Debug().Str("device_id", deviceID).Msg("fade cancelled before first step")
		return nil
	default:
	}
	f.wg.Add(1)
	f.mu.Unlock()

	fadesStarted.Inc()
	f.logger.Debug().Str("device_id", deviceID).Dur("interval", interval).Msg("fade started")

	go f.run(context.WithoutCancel(ctx), ramp)
	return nil
}

func (f *Fader) run(ctx context.Context, ramp *fade) {
	defer f.wg.Done()
	deviceID := ramp.state.DeviceID

	for {
		select {
		case <-ramp.stop:
			return
		case <-ramp.ticker.C():
		}
		// Cancel may race the tick; it wins.
		select {
		case <-ramp.stop:
			return
		default:
		}

		f.mu.Lock()
		ramp.state.Volume += StepSize
		volume := ramp.state.Volume
		f.mu.Unlock()

		if err := f.setter.SetVolume(ctx, deviceID, volume); err != nil {
			stepFailures.Inc()
			f.logger.Warn().Err(err).Str("device_id", deviceID).Int("volume", volume).Msg("fade: volume step failed")
		}

		if volume >= MaxVolume {
			ramp.cancel()
			f.release(ramp)
			fadesCompleted.Inc()
			f.logger.Debug().Str("device_id", deviceID).Msg("fade completed")
			return
		}
	}
}

func (f *Fader) release(ramp *fade) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if current, ok := f.fades[ramp.state.DeviceID]; ok && current == ramp {
		delete(f.fades, ramp.state.DeviceID)
	}
}

// Cancel stops the ramp for deviceID. Unknown or finished ramps are ignored.
// A step already past its cancellation check may still complete.
func (f *Fader) Cancel(deviceID string) {
	f.mu.Lock()
	ramp, ok := f.fades[deviceID]
	if ok {
		delete(f.fades, deviceID)
	}
	f.mu.Unlock()

	if ok && ramp.cancel() {
		fadesCancelled.Inc()
		f.logger.Debug().Str("device_id", deviceID).Msg("fade cancelled")
	}
}

// Active reports the running ramp for deviceID.
func (f *Fader) Active(deviceID string) (FadeState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ramp, ok := f.fades[deviceID]
	if !ok {
		return FadeState{}, false
	}
	return ramp.state, true
}

// ActiveAll returns every running ramp ordered by device id.
func (f *Fader) ActiveAll() []FadeState {
	f.mu.Lock()
	states := make([]FadeState, 0, len(f.fades))
	for _, ramp := range f.fades {
		states = append(states, ramp.state)
	}
	f.mu.Unlock()
	sort.Slice(states, func(i, j int) bool { return states[i].DeviceID < states[j].DeviceID })
	return states
}

// Stop cancels every ramp and waits for their goroutines to exit.
func (f *Fader) Stop() {
	f.mu.Lock()
	ids := make([]string, 0, len(f.fades))
	for id := range f.fades {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.Cancel(id)
	}
	f.wg.Wait()
}
