package trilat

import (
	"testing"
	"time"
)

func TestStateTrackerEstimates(t *testing.T) {
	st := NewStateTracker()

	if st.HasEstimates() {
		t.Error("New tracker should have no estimates")
	}

	est := Estimate{DeviceID: "watch", Position: Vec3{X: 1, Y: 2, Z: 3}, Confidence: 0.85}
	st.UpdateEstimate(est)

	got, ok := st.GetEstimate("watch")
	if !ok {
		t.Fatal("Expected estimate for watch")
	}
	if got.Position != est.Position {
		t.Errorf("Position = %+v, want %+v", got.Position, est.Position)
	}
	if !st.HasEstimates() {
		t.Error("Expected HasEstimates after update")
	}

	if _, ok := st.GetEstimate("missing"); ok {
		t.Error("Expected no estimate for unknown device")
	}
}

func TestStateTrackerGetEstimatesReturnsCopy(t *testing.T) {
	st := NewStateTracker()
	st.UpdateEstimate(Estimate{DeviceID: "watch"})

	all := st.GetEstimates()
	delete(all, "watch")

	if _, ok := st.GetEstimate("watch"); !ok {
		t.Error("Mutating the returned map must not affect the tracker")
	}
}

func TestStateTrackerClear(t *testing.T) {
	st := NewStateTracker()
	st.UpdateEstimate(Estimate{DeviceID: "watch"})
	st.ClearEstimate("watch")

	if st.HasEstimates() {
		t.Error("Expected no estimates after clear")
	}
}

func TestStateTrackerNames(t *testing.T) {
	st := NewStateTracker()

	if got := st.Name("watch"); got != "watch" {
		t.Errorf("Unnamed device should fall back to ID, got %q", got)
	}

	st.SetName("watch", "Garmin Watch")
	if got := st.Name("watch"); got != "Garmin Watch" {
		t.Errorf("Name = %q", got)
	}
}

func TestStateTrackerPrune(t *testing.T) {
	st := NewStateTracker()
	st.UpdateEstimate(Estimate{DeviceID: "fresh", ObservedAt: time.Now()})
	st.UpdateEstimate(Estimate{DeviceID: "stale", ObservedAt: time.Now().Add(-2 * time.Minute)})

	removed := st.PruneOlderThan(time.Minute)
	if len(removed) != 1 || removed[0] != "stale" {
		t.Fatalf("Expected [stale] removed, got %v", removed)
	}
	if _, ok := st.GetEstimate("fresh"); !ok {
		t.Error("Fresh estimate should survive pruning")
	}
}
