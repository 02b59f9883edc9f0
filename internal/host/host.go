// Package host is the boundary to the accessory host framework: accessory
// registration, cached accessory restore and pushed state updates.
package host

import "context"

// Handle is what the host needs to know about an accessory.
type Handle interface {
	UUID() string
	DisplayName() string
}

// Notifier receives polled state for accessories the host presents.
type Notifier interface {
	UpdatePower(uuid string, on bool)
}

type Host interface {
	Notifier
	RegisterAccessories(ctx context.Context, pluginID, platform string, handles []Handle) error
	UnregisterAccessories(ctx context.Context, pluginID, platform string, handles []Handle) error
}

// RestoreFunc is invoked once per accessory the host remembered from a
// previous run.
type RestoreFunc func(Handle)

// Restorer is implemented by hosts that persist accessories across restarts.
type Restorer interface {
	Restore(ctx context.Context, fn RestoreFunc) error
}

// CachedHandle is an accessory known only from the host's cache.
type CachedHandle struct {
	ID   string `json:"uuid"`
	Name string `json:"name"`
}

func (h CachedHandle) UUID() string        { return h.ID }
func (h CachedHandle) DisplayName() string { return h.Name }
