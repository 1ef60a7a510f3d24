package trilat

import (
	"testing"
	"time"
)

func testAnchors() []Anchor {
	return []Anchor{
		{ID: "front_proxy", Position: Vec3{X: 0, Y: 0, Z: 2}},
		{ID: "back_proxy", Position: Vec3{X: 10, Y: 0, Z: 2}},
		{ID: "side_proxy", Position: Vec3{X: 5, Y: 8, Z: 2}, Alias: "Side Room"},
	}
}

func readingsFor(target Vec3, anchors []Anchor) []RangeReading {
	readings := make([]RangeReading, len(anchors))
	for i, a := range anchors {
		readings[i] = RangeReading{Label: a.ID, Distance: target.Dist(a.Position)}
	}
	return readings
}

func TestLocatorResolve(t *testing.T) {
	anchors := testAnchors()
	loc := NewLocator(DefaultSolverConfig())

	readings := []RangeReading{
		{Label: "front_proxy", Distance: 3},
		{Label: "side_room", Distance: 4},    // matches via alias
		{Label: "no_such_node", Distance: 5}, // unmatched, dropped
	}

	ms := loc.Resolve(readings, anchors)
	if len(ms) != 2 {
		t.Fatalf("Expected 2 measurements, got %d", len(ms))
	}
	if ms[0].AnchorID != "front_proxy" || ms[1].AnchorID != "side_proxy" {
		t.Errorf("Unexpected anchors: %s, %s", ms[0].AnchorID, ms[1].AnchorID)
	}
}

func TestLocatorResolveDedupesAnchors(t *testing.T) {
	anchors := testAnchors()
	loc := NewLocator(DefaultSolverConfig())

	// Two labels resolving to the same anchor: one exact, one partial. The
	// first reading wins.
	readings := []RangeReading{
		{Label: "front_proxy", Distance: 3},
		{Label: "ble_front_proxy", Distance: 7},
	}

	ms := loc.Resolve(readings, anchors)
	if len(ms) != 1 {
		t.Fatalf("Expected 1 measurement after dedupe, got %d", len(ms))
	}
	if ms[0].Distance != 3 {
		t.Errorf("Expected first reading to win, got distance %v", ms[0].Distance)
	}
}

func TestLocateDevice(t *testing.T) {
	anchors := testAnchors()
	target := Vec3{X: 5, Y: 4, Z: 2}

	loc := NewLocator(DefaultSolverConfig())
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	loc.now = func() time.Time { return fixed }

	est, err := loc.LocateDevice("watch", readingsFor(target, anchors), anchors)
	if err != nil {
		t.Fatalf("LocateDevice failed: %v", err)
	}

	if est.DeviceID != "watch" {
		t.Errorf("DeviceID = %q", est.DeviceID)
	}
	if d := est.Position.Dist(target); d > 0.2 {
		t.Errorf("Position %.3fm from expected", d)
	}
	if est.Confidence != PlaceholderConfidence {
		t.Errorf("Confidence = %v, want %v", est.Confidence, PlaceholderConfidence)
	}
	if !est.Converged {
		t.Error("Expected converged estimate")
	}
	if !est.ObservedAt.Equal(fixed) {
		t.Errorf("ObservedAt = %v, want %v", est.ObservedAt, fixed)
	}
}

func TestLocateDeviceInsufficientReadings(t *testing.T) {
	anchors := testAnchors()
	loc := NewLocator(DefaultSolverConfig())

	readings := []RangeReading{
		{Label: "front_proxy", Distance: 3},
		{Label: "back_proxy", Distance: 4},
	}

	if _, err := loc.LocateDevice("watch", readings, anchors); err == nil {
		t.Error("Expected error with only 2 matchable readings")
	}
}

func TestLocateAll(t *testing.T) {
	anchors := testAnchors()
	target := Vec3{X: 5, Y: 4, Z: 2}
	loc := NewLocator(DefaultSolverConfig())

	batches := map[string][]RangeReading{
		"watch": readingsFor(target, anchors),
		"keys":  {{Label: "front_proxy", Distance: 3}}, // too few, skipped
	}

	estimates := loc.LocateAll(batches, anchors)
	if len(estimates) != 1 {
		t.Fatalf("Expected 1 estimate, got %d", len(estimates))
	}
	if _, ok := estimates["watch"]; !ok {
		t.Error("Expected estimate for watch")
	}
}
