// Package reconcile keeps the host's accessory set in step with the devices
// the remote account reports.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-spotify/internal/accessory"
	"github.com/joshp123/gohome-spotify/internal/clock"
	"github.com/joshp123/gohome-spotify/internal/core"
	"github.com/joshp123/gohome-spotify/internal/events"
	"github.com/joshp123/gohome-spotify/internal/host"
	"github.com/joshp123/gohome-spotify/internal/oauth"
	"github.com/joshp123/gohome-spotify/internal/remote"
)

// DefaultInterval is used when Config.Interval is unset.
const DefaultInterval = 10 * time.Second

// ErrTickInProgress is returned by Tick when another tick is running.
var ErrTickInProgress = errors.New("reconcile tick already in progress")

// Factory builds the accessory for a newly seen device.
type Factory func(remote.Device) *accessory.Accessory

type Config struct {
	PluginID string
	Platform string
	// DeviceID limits reconciliation to one device when set.
	DeviceID string
	Interval time.Duration
}

// Result summarises one tick.
type Result struct {
	Restored     int      `json:"restored"`
	Registered   []string `json:"registered"`
	Unregistered []string `json:"unregistered"`
	Checked      int      `json:"checked"`
}

// Canceller stops per-device background work when a device goes away.
type Canceller interface {
	Cancel(deviceID string)
}

type Reconciler struct {
	cfg     Config
	lister  remote.DeviceLister
	host    host.Host
	factory Factory

	events    events.Publisher
	canceller Canceller
	clock     clock.Clock
	logger    zerolog.Logger
	onHealth  func(core.HealthStatus, string)

	running atomic.Bool

	mu       sync.RWMutex
	registry map[string]*accessory.Accessory
	restored []host.Handle
	cleaned  bool
}

type Option func(*Reconciler)

func WithEvents(p events.Publisher) Option {
	return func(r *Reconciler) { r.events = p }
}

// WithCanceller is told about every device removed from the registry.
func WithCanceller(c Canceller) Option {
	return func(r *Reconciler) { r.canceller = c }
}

func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithHealth receives the plugin health after every tick.
func WithHealth(fn func(core.HealthStatus, string)) Option {
	return func(r *Reconciler) { r.onHealth = fn }
}

func New(cfg Config, lister remote.DeviceLister, h host.Host, factory Factory, opts ...Option) (*Reconciler, error) {
	if lister == nil {
		return nil, fmt.Errorf("device lister is required")
	}
	if h == nil {
		return nil, fmt.Errorf("host is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("accessory factory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	r := &Reconciler{
		cfg:      cfg,
		lister:   lister,
		host:     h,
		factory:  factory,
		events:   events.Nop{},
		clock:    clock.Real{},
		logger:   zerolog.Nop(),
		onHealth: func(core.HealthStatus, string) {},
		registry: make(map[string]*accessory.Accessory),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "reconcile").Logger()
	return r, nil
}

// RestoreCached queues a host-restored accessory for the one-time cleanup
// before the first tick. It matches host.RestoreFunc.
func (r *Reconciler) RestoreCached(h host.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleaned {
		r.logger.Warn().Str("uuid", h.UUID()).Msg("cached accessory restored after cleanup, ignoring")
		return
	}
	r.restored = append(r.restored, h)
}

// Run ticks immediately and then on every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			r.runTick(ctx)
		}
	}
}

func (r *Reconciler) runTick(ctx context.Context) {
	if _, err := r.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
		event := r.logger.Error()
		if remote.IsTransient(err) {
			event = r.logger.Warn()
		}
		event.Err(err).Msg("reconcile tick failed")
	}
}

// Tick runs one reconciliation pass. A tick that is already running is not
// queued; the caller gets ErrTickInProgress.
func (r *Reconciler) Tick(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		ticksSkipped.Inc()
		r.logger.Debug().Msg("reconcile tick skipped, previous tick still running")
		return Result{}, ErrTickInProgress
	}
	defer r.running.Store(false)

	start := r.clock.Now()
	res, err := r.safeTick(ctx)
	tickDuration.Observe(r.clock.Now().Sub(start).Seconds())

	r.mu.RLock()
	registered.Set(float64(len(r.registry)))
	r.mu.RUnlock()

	if err != nil {
		ticks.WithLabelValues("failure").Inc()
		r.onHealth(healthFor(err), err.Error())
		return res, err
	}
	ticks.WithLabelValues("success").Inc()
	r.onHealth(core.HealthHealthy, "")
	return res, nil
}

// healthFor maps a tick error to plugin health. A refresh token the provider
// rejects needs a new authorization, so it is an error rather than degraded.
func healthFor(err error) core.HealthStatus {
	var authErr *oauth.AuthError
	if errors.As(err, &authErr) && authErr.Status >= 400 && authErr.Status < 500 {
		return core.HealthError
	}
	return core.HealthDegraded
}

func (r *Reconciler) safeTick(ctx context.Context) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Msg("reconcile tick panicked")
			err = fmt.Errorf("reconcile tick panicked: %v", p)
		}
	}()
	return r.tick(ctx)
}

func (r *Reconciler) tick(ctx context.Context) (Result, error) {
	var res Result
	res.Restored = r.cleanup(ctx)

	devices, err := r.lister.ListDevices(ctx)
	if err != nil {
		return res, fmt.Errorf("list devices: %w", err)
	}
	devices = r.filter(devices)

	seen := make(map[string]remote.Device, len(devices))
	for _, device := range devices {
		seen[device.ID] = device
	}

	var errs []error
	removed, err := r.removeMissing(ctx, seen)
	res.Unregistered = removed
	if err != nil {
		errs = append(errs, err)
	}

	added, err := r.addNew(ctx, devices)
	res.Registered = added
	if err != nil {
		errs = append(errs, err)
	}

	for _, acc := range r.Accessories() {
		acc.CheckOn(ctx)
		res.Checked++
	}

	if len(res.Registered) > 0 || len(res.Unregistered) > 0 {
		r.logger.Info().
			Strs("registered", res.Registered).
			Strs("unregistered", res.Unregistered).
			Int("accessories", res.Checked).
			Msg("accessories reconciled")
	}
	return res, errors.Join(errs...)
}

// cleanup unregisters host-restored accessories exactly once.
func (r *Reconciler) cleanup(ctx context.Context) int {
	r.mu.Lock()
	if r.cleaned {
		r.mu.Unlock()
		return 0
	}
	r.cleaned = true
	restored := r.restored
	r.restored = nil
	r.mu.Unlock()

	if len(restored) == 0 {
		return 0
	}
	if err := r.host.UnregisterAccessories(ctx, r.cfg.PluginID, r.cfg.Platform, restored); err != nil {
		r.logger.Error().Err(err).Int("accessories", len(restored)).Msg("unregister cached accessories failed")
		return 0
	}
	r.logger.Info().Int("accessories", len(restored)).Msg("cached accessories unregistered")
	return len(restored)
}

func (r *Reconciler) filter(devices []remote.Device) []remote.Device {
	if r.cfg.DeviceID == "" {
		return devices
	}
	var filtered []remote.Device
	for _, device := range devices {
		if device.ID == r.cfg.DeviceID {
			filtered = append(filtered, device)
		}
	}
	return filtered
}

func (r *Reconciler) removeMissing(ctx context.Context, seen map[string]remote.Device) ([]string, error) {
	r.mu.RLock()
	var gone []*accessory.Accessory
	for id, acc := range r.registry {
		if _, ok := seen[id]; !ok {
			gone = append(gone, acc)
		}
	}
	r.mu.RUnlock()
	if len(gone) == 0 {
		return nil, nil
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].DeviceID() < gone[j].DeviceID() })

	if err := r.host.UnregisterAccessories(ctx, r.cfg.PluginID, r.cfg.Platform, handles(gone)); err != nil {
		return nil, fmt.Errorf("unregister accessories: %w", err)
	}

	ids := make([]string, 0, len(gone))
	r.mu.Lock()
	for _, acc := range gone {
		delete(r.registry, acc.DeviceID())
		ids = append(ids, acc.DeviceID())
	}
	r.mu.Unlock()

	unregistrations.Add(float64(len(gone)))
	for _, acc := range gone {
		if r.canceller != nil {
			r.canceller.Cancel(acc.DeviceID())
		}
		r.publish(ctx, events.TypeUnregistered, acc)
	}
	return ids, nil
}

func (r *Reconciler) addNew(ctx context.Context, devices []remote.Device) ([]string, error) {
	r.mu.RLock()
	var missing []remote.Device
	pending := make(map[string]bool)
	for _, device := range devices {
		if _, ok := r.registry[device.ID]; ok || pending[device.ID] {
			continue
		}
		pending[device.ID] = true
		missing = append(missing, device)
	}
	r.mu.RUnlock()
	if len(missing) == 0 {
		return nil, nil
	}

	fresh := make([]*accessory.Accessory, 0, len(missing))
	for _, device := range missing {
		fresh = append(fresh, r.factory(device))
	}

	if err := r.host.RegisterAccessories(ctx, r.cfg.PluginID, r.cfg.Platform, handles(fresh)); err != nil {
		return nil, fmt.Errorf("register accessories: %w", err)
	}

	ids := make([]string, 0, len(fresh))
	r.mu.Lock()
	for _, acc := range fresh {
		r.registry[acc.DeviceID()] = acc
		ids = append(ids, acc.DeviceID())
	}
	r.mu.Unlock()

	registrations.Add(float64(len(fresh)))
	for _, acc := range fresh {
		r.publish(ctx, events.TypeRegistered, acc)
	}
	return ids, nil
}

func (r *Reconciler) publish(ctx context.Context, typ events.Type, acc *accessory.Accessory) {
	event := events.Event{Type: typ, DeviceID: acc.DeviceID(), Name: acc.DisplayName(), At: r.clock.Now()}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warn().Err(err).Str("device_id", acc.DeviceID()).Str("event", string(typ)).Msg("publish event failed")
	}
}

// Accessories returns the registered accessories ordered by device id.
func (r *Reconciler) Accessories() []*accessory.Accessory {
	r.mu.RLock()
	out := make([]*accessory.Accessory, 0, len(r.registry))
	for _, acc := range r.registry {
		out = append(out, acc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID() < out[j].DeviceID() })
	return out
}

// Lookup finds a registered accessory by device id.
func (r *Reconciler) Lookup(deviceID string) (*accessory.Accessory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.registry[deviceID]
	return acc, ok
}

func handles(accs []*accessory.Accessory) []host.Handle {
	out := make([]host.Handle, 0, len(accs))
	for _, acc := range accs {
		out = append(out, acc)
	}
	return out
}
