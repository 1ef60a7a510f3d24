package trilat

import (
	"errors"
	"log"
	"time"
)

// PlaceholderConfidence is attached to every estimate until a real metric is
// derived from the solver residual.
// TODO: replace with a formula based on SolveResult.RMS and anchor geometry.
const PlaceholderConfidence = 0.85

// Estimate is one resolved device position.
type Estimate struct {
	DeviceID   string    `json:"deviceId"`
	Position   Vec3      `json:"position"`
	Confidence float64   `json:"confidence"`
	RMS        float64   `json:"rms"` // solver residual, meters
	Converged  bool      `json:"converged"`
	ObservedAt time.Time `json:"observedAt"`
}

// Locator turns batches of range readings into position estimates. It holds
// no state between calls; anchors are supplied fresh on every solve so a
// floorplan edit takes effect on the next cycle.
type Locator struct {
	Solver SolverConfig
	now    func() time.Time
}

// NewLocator creates a locator with the given solver tuning.
func NewLocator(solver SolverConfig) *Locator {
	return &Locator{Solver: solver, now: time.Now}
}

// Resolve matches each reading's label against the anchor list and pairs it
// with the anchor position. Unmatched readings are dropped; duplicate matches
// to the same anchor keep the first reading.
func (l *Locator) Resolve(readings []RangeReading, anchors []Anchor) []Measurement {
	ms := make([]Measurement, 0, len(readings))
	seen := make(map[string]bool, len(readings))
	for _, r := range readings {
		anchor, ok := MatchAnchor(r.Label, anchors)
		if !ok {
			log.Printf("[DEBUG] locator: no anchor matched label %q", r.Label)
			continue
		}
		if seen[anchor.ID] {
			continue
		}
		seen[anchor.ID] = true
		ms = append(ms, Measurement{AnchorID: anchor.ID, Position: anchor.Position, Distance: r.Distance})
	}
	return ms
}

// LocateDevice estimates one device's position from its readings. Returns a
// typed solver failure when the estimate cannot be produced; insufficient
// data is an expected outcome, not a fault.
func (l *Locator) LocateDevice(deviceID string, readings []RangeReading, anchors []Anchor) (Estimate, error) {
	ms := l.Resolve(readings, anchors)

	result, err := Solve(ms, l.Solver)
	if err != nil {
		return Estimate{}, err
	}

	return Estimate{
		DeviceID:   deviceID,
		Position:   result.Position,
		Confidence: PlaceholderConfidence,
		RMS:        result.RMS,
		Converged:  result.Converged,
		ObservedAt: l.now(),
	}, nil
}

// LocateAll estimates positions for every device in the batch map. Devices
// that cannot be solved this cycle are skipped; divergence is logged louder
// than plain data shortage since it usually means a miscalibrated anchor.
func (l *Locator) LocateAll(batches map[string][]RangeReading, anchors []Anchor) map[string]Estimate {
	estimates := make(map[string]Estimate, len(batches))
	for deviceID, readings := range batches {
		est, err := l.LocateDevice(deviceID, readings, anchors)
		if err != nil {
			switch {
			case errors.Is(err, ErrDiverged), errors.Is(err, ErrUnreasonableResult):
				log.Printf("Warning: trilateration failed for %s: %v", deviceID, err)
			default:
				log.Printf("[DEBUG] locator: skipping %s: %v", deviceID, err)
			}
			continue
		}
		estimates[deviceID] = est
	}
	return estimates
}
