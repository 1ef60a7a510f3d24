package trilat

import (
	"sync"
	"time"
)

// StateTracker keeps the latest estimate per tracked device for the HTTP
// endpoints and the combined MQTT message.
type StateTracker struct {
	mu        sync.RWMutex
	estimates map[string]Estimate
	names     map[string]string // device ID -> friendly name
}

// NewStateTracker creates an empty state tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{
		estimates: make(map[string]Estimate),
		names:     make(map[string]string),
	}
}

// SetName records a friendly name for a device.
func (st *StateTracker) SetName(deviceID, name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.names[deviceID] = name
}

// Name returns the friendly name for a device, or its ID when none is set.
func (st *StateTracker) Name(deviceID string) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if name := st.names[deviceID]; name != "" {
		return name
	}
	return deviceID
}

// UpdateEstimate stores the latest estimate for a device.
func (st *StateTracker) UpdateEstimate(est Estimate) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.estimates[est.DeviceID] = est
}

// GetEstimate returns the latest estimate for a device.
func (st *StateTracker) GetEstimate(deviceID string) (Estimate, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	est, ok := st.estimates[deviceID]
	return est, ok
}

// GetEstimates returns a copy of all current estimates.
func (st *StateTracker) GetEstimates() map[string]Estimate {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string]Estimate, len(st.estimates))
	for id, est := range st.estimates {
		result[id] = est
	}
	return result
}

// ClearEstimate removes a device's estimate (e.g. when its readings go stale).
func (st *StateTracker) ClearEstimate(deviceID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.estimates, deviceID)
}

// PruneOlderThan drops estimates not refreshed within maxAge and returns the
// IDs that were removed.
func (st *StateTracker) PruneOlderThan(maxAge time.Duration) []string {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for id, est := range st.estimates {
		if est.ObservedAt.Before(cutoff) {
			delete(st.estimates, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// HasEstimates returns true if at least one device has a current estimate.
func (st *StateTracker) HasEstimates() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.estimates) > 0
}
