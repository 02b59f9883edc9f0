// Package hap presents registered accessories on a HomeKit bridge.
package hap

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/brutella/hc"
	hcaccessory "github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-spotify/internal/config"
	"github.com/joshp123/gohome-spotify/internal/host"
)

const (
	bridgeID     = 1
	hookTimeout  = 10 * time.Second
	manufacturer = "gohome"
)

// Controllable is an accessory that can be driven from HomeKit.
type Controllable interface {
	host.Handle
	Kind() string
	PowerGet(ctx context.Context) bool
	PowerSet(ctx context.Context, on bool) error
	VolumeGet(ctx context.Context) int
	VolumeSet(ctx context.Context, percent int) error
}

// Transport is the running HomeKit server for a fixed accessory set.
type Transport interface {
	Start()
	Stop() <-chan struct{}
}

type TransportFactory func(cfg hc.Config, bridge *hcaccessory.Accessory, accs ...*hcaccessory.Accessory) (Transport, error)

func ipTransport(cfg hc.Config, bridge *hcaccessory.Accessory, accs ...*hcaccessory.Accessory) (Transport, error) {
	return hc.NewIPTransport(cfg, bridge, accs...)
}

// Host is a HomeKit bridge. hc transports are built around a fixed accessory
// list, so every change to the set restarts the transport.
type Host struct {
	cfg          hc.Config
	newTransport TransportFactory
	logger       zerolog.Logger
	bridge       *hcaccessory.Bridge

	mu        sync.Mutex
	presented map[string]*presented
	transport Transport
}

type Option func(*Host)

// WithTransportFactory replaces the IP transport, for tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(h *Host) { h.newTransport = f }
}

func New(cfg config.HAPConfig, logger zerolog.Logger, opts ...Option) *Host {
	h := &Host{
		cfg:          hc.Config{Pin: cfg.Pin, StoragePath: cfg.StoragePath},
		newTransport: ipTransport,
		logger:       logger.With().Str("component", "hap").Logger(),
		bridge: hcaccessory.NewBridge(hcaccessory.Info{
			Name:         "gohome Spotify",
			Manufacturer: manufacturer,
			Model:        "Bridge",
			ID:           bridgeID,
		}),
		presented: make(map[string]*presented),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) RegisterAccessories(_ context.Context, pluginID, platform string, handles []host.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := false
	for _, handle := range handles {
		if _, ok := h.presented[handle.UUID()]; ok {
			continue
		}
		ctl, ok := handle.(Controllable)
		if !ok {
			h.logger.Debug().Str("uuid", handle.UUID()).Msg("skipping accessory without capabilities")
			continue
		}
		h.presented[handle.UUID()] = h.present(ctl)
		changed = true
	}
	if !changed {
		return nil
	}
	h.logger.Info().Str("plugin_id", pluginID).Str("platform", platform).Int("accessories", len(h.presented)).Msg("hap accessories registered")
	return h.restartLocked()
}

func (h *Host) UnregisterAccessories(_ context.Context, pluginID, platform string, handles []host.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := false
	for _, handle := range handles {
		if _, ok := h.presented[handle.UUID()]; ok {
			delete(h.presented, handle.UUID())
			changed = true
		}
	}
	if !changed {
		return nil
	}
	h.logger.Info().Str("plugin_id", pluginID).Str("platform", platform).Int("accessories", len(h.presented)).Msg("hap accessories unregistered")
	return h.restartLocked()
}

func (h *Host) UpdatePower(uuid string, on bool) {
	h.mu.Lock()
	p, ok := h.presented[uuid]
	h.mu.Unlock()
	if ok {
		p.on.SetValue(on)
	}
}

// Close stops the running transport, if any.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *Host) restartLocked() error {
	h.stopLocked()
	if len(h.presented) == 0 {
		return nil
	}

	uuids := make([]string, 0, len(h.presented))
	for uuid := range h.presented {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)
	accs := make([]*hcaccessory.Accessory, 0, len(uuids))
	for _, uuid := range uuids {
		accs = append(accs, h.presented[uuid].acc)
	}

	t, err := h.newTransport(h.cfg, h.bridge.Accessory, accs...)
	if err != nil {
		return err
	}
	h.transport = t
	go t.Start()
	return nil
}

func (h *Host) stopLocked() {
	if h.transport == nil {
		return
	}
	<-h.transport.Stop()
	h.transport = nil
}

type presented struct {
	ctl        Controllable
	acc        *hcaccessory.Accessory
	on         *characteristic.On
	brightness *characteristic.Brightness
	logger     zerolog.Logger
}

func (h *Host) present(ctl Controllable) *presented {
	info := hcaccessory.Info{
		Name:         ctl.DisplayName(),
		SerialNumber: ctl.UUID(),
		Manufacturer: manufacturer,
		Model:        "Spotify Connect",
		ID:           accessoryID(ctl.UUID()),
	}
	p := &presented{
		ctl:    ctl,
		logger: h.logger.With().Str("uuid", ctl.UUID()).Logger(),
	}

	switch ctl.Kind() {
	case config.KindSwitch:
		sw := hcaccessory.NewSwitch(info)
		p.acc = sw.Accessory
		p.on = sw.Switch.On
	default:
		if ctl.Kind() == config.KindSpeaker {
			info.Model = "Spotify Connect Speaker"
		}
		bulb := hcaccessory.NewLightbulb(info)
		p.acc = bulb.Accessory
		p.on = bulb.Lightbulb.On
		p.brightness = characteristic.NewBrightness()
		bulb.Lightbulb.AddCharacteristic(p.brightness.Characteristic)
		p.brightness.OnValueRemoteGet(p.remoteGetVolume)
		p.brightness.OnValueRemoteUpdate(p.remoteSetVolume)
	}
	p.on.OnValueRemoteGet(p.remoteGetPower)
	p.on.OnValueRemoteUpdate(p.remoteSetPower)
	return p
}

func (p *presented) remoteGetPower() bool {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	return p.ctl.PowerGet(ctx)
}

func (p *presented) remoteSetPower(on bool) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := p.ctl.PowerSet(ctx, on); err != nil {
		p.logger.Warn().Err(err).Bool("on", on).Msg("hap power set failed")
	}
}

func (p *presented) remoteGetVolume() int {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	return p.ctl.VolumeGet(ctx)
}

func (p *presented) remoteSetVolume(percent int) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := p.ctl.VolumeSet(ctx, percent); err != nil {
		p.logger.Warn().Err(err).Int("volume", percent).Msg("hap volume set failed")
	}
}

// accessoryID maps a UUID to a stable HomeKit accessory id above the bridge.
func accessoryID(uuid string) uint64 {
	sum := fnv.New64a()
	_, _ = sum.Write([]byte(uuid))
	id := sum.Sum64() >> 1
	if id <= bridgeID {
		id += bridgeID + 1
	}
	return id
}

var _ host.Host = (*Host)(nil)
