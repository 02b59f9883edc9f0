package core

import "sync"

// HealthTracker holds a status that background loops update and handlers read.
type HealthTracker struct {
	mu      sync.RWMutex
	status  HealthStatus
	message string
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{status: HealthHealthy}
}

// Set records the latest status. An empty message clears the previous one.
func (h *HealthTracker) Set(status HealthStatus, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = status
	h.message = message
}

func (h *HealthTracker) Status() (HealthStatus, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status, h.message
}
