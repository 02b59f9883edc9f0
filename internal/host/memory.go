package host

import (
	"context"
	"sort"
	"sync"
)

// Call records one registration change seen by Memory.
type Call struct {
	Op       string
	PluginID string
	Platform string
	UUIDs    []string
}

// Memory is a host that only keeps state in process. It backs headless mode
// and tests.
type Memory struct {
	mu         sync.Mutex
	registered map[string]Handle
	power      map[string]bool
	calls      []Call
	cached     []Handle
}

func NewMemory(cached ...Handle) *Memory {
	return &Memory{
		registered: make(map[string]Handle),
		power:      make(map[string]bool),
		cached:     cached,
	}
}

func (m *Memory) RegisterAccessories(_ context.Context, pluginID, platform string, handles []Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range handles {
		m.registered[h.UUID()] = h
	}
	m.calls = append(m.calls, Call{Op: "register", PluginID: pluginID, Platform: platform, UUIDs: uuids(handles)})
	return nil
}

func (m *Memory) UnregisterAccessories(_ context.Context, pluginID, platform string, handles []Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range handles {
		delete(m.registered, h.UUID())
		delete(m.power, h.UUID())
	}
	m.calls = append(m.calls, Call{Op: "unregister", PluginID: pluginID, Platform: platform, UUIDs: uuids(handles)})
	return nil
}

func (m *Memory) UpdatePower(uuid string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registered[uuid]; ok {
		m.power[uuid] = on
	}
}

// Restore replays the handles Memory was seeded with.
func (m *Memory) Restore(_ context.Context, fn RestoreFunc) error {
	m.mu.Lock()
	cached := append([]Handle(nil), m.cached...)
	m.mu.Unlock()
	for _, h := range cached {
		fn(h)
	}
	return nil
}

// Registered returns the registered handles ordered by UUID.
func (m *Memory) Registered() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Handle, 0, len(m.registered))
	for _, h := range m.registered {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID() < out[j].UUID() })
	return out
}

func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *Memory) Power(uuid string) (on bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	on, ok = m.power[uuid]
	return on, ok
}

func uuids(handles []Handle) []string {
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.UUID())
	}
	return out
}

var (
	_ Host     = (*Memory)(nil)
	_ Restorer = (*Memory)(nil)
)
