package trilat

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RangeReading is one distance observation from a proximity sensor: the label
// names the anchor the distance was measured to. Readings are ephemeral;
// they are produced per estimation cycle, consumed once, and discarded.
type RangeReading struct {
	Label    string
	Distance float64 // meters
}

// ParseReading builds a RangeReading from a raw sensor value. Returns false
// for non-numeric, NaN, or negative values; an unparseable reading is simply
// absent, not an error.
func ParseReading(label, raw string) (RangeReading, bool) {
	raw = strings.TrimSpace(raw)
	if label == "" || raw == "" {
		return RangeReading{}, false
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return RangeReading{}, false
	}
	return RangeReading{Label: label, Distance: d}, true
}

// distanceMarker separates the tracked-device prefix from the anchor label in
// a distance sensor ID, e.g. "bwzugdvi_distance_to_lounge_proxy".
const distanceMarker = "_distance_to_"

// ExtractNodeLabel returns the anchor label portion of a distance sensor ID,
// e.g. "bwzugdvi_distance_to_lounge_proxy" -> "lounge_proxy".
func ExtractNodeLabel(sensorID string) (string, bool) {
	sensorID = strings.TrimPrefix(sensorID, "sensor.")
	parts := strings.SplitN(sensorID, distanceMarker, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// DeviceFromSensor returns the tracked-device prefix of a distance sensor ID,
// e.g. "bwzugdvi_distance_to_lounge_proxy" -> "bwzugdvi".
func DeviceFromSensor(sensorID string) (string, bool) {
	sensorID = strings.TrimPrefix(sensorID, "sensor.")
	parts := strings.SplitN(sensorID, distanceMarker, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0], true
}

// timedReading is a reading plus the time it arrived.
type timedReading struct {
	reading  RangeReading
	device   string
	received time.Time
}

// ReadingStore caches the latest reading per distance sensor so the
// estimation ticker can take a consistent snapshot each cycle. Sensor IDs
// that do not contain the distance marker, and payloads that do not parse as
// a non-negative number, are dropped on ingest.
type ReadingStore struct {
	mu       sync.RWMutex
	readings map[string]timedReading // sensor ID -> latest reading
	now      func() time.Time
}

// NewReadingStore creates an empty reading store.
func NewReadingStore() *ReadingStore {
	return &ReadingStore{
		readings: make(map[string]timedReading),
		now:      time.Now,
	}
}

// Update ingests a raw sensor value. Returns true if the value was accepted.
func (s *ReadingStore) Update(sensorID, raw string) bool {
	label, ok := ExtractNodeLabel(sensorID)
	if !ok {
		return false
	}
	device, ok := DeviceFromSensor(sensorID)
	if !ok {
		return false
	}
	reading, ok := ParseReading(label, raw)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[sensorID] = timedReading{
		reading:  reading,
		device:   device,
		received: s.now(),
	}
	return true
}

// Snapshot returns the current readings grouped by tracked device, excluding
// readings older than maxAge. maxAge <= 0 disables the staleness filter.
func (s *ReadingStore) Snapshot(maxAge time.Duration) map[string][]RangeReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = s.now().Add(-maxAge)
	}

	batches := make(map[string][]RangeReading)
	for _, tr := range s.readings {
		if !cutoff.IsZero() && tr.received.Before(cutoff) {
			continue
		}
		batches[tr.device] = append(batches[tr.device], tr.reading)
	}
	return batches
}

// Len returns the number of cached sensor readings.
func (s *ReadingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}
