package trilat

import (
	"errors"
	"log"
	"math"
)

// Measurement pairs a resolved anchor with a measured distance for one
// estimation pass.
type Measurement struct {
	AnchorID string
	Position Vec3
	Distance float64 // meters, non-negative
}

// Typed solver failures. The first two are expected outcomes (too little
// data); the last two indicate the geometry produced garbage and the caller
// should discard the cycle.
var (
	ErrInsufficientAnchors     = errors.New("insufficient anchors for trilateration")
	ErrInsufficientAfterFilter = errors.New("insufficient anchors after outlier filtering")
	ErrDiverged                = errors.New("trilateration diverged, position outside reasonable bounds")
	ErrUnreasonableResult      = errors.New("trilateration result outside reasonable bounds")
)

// SolverConfig holds tunables for the trilateration solver.
// All distances are in meters.
type SolverConfig struct {
	MaxIterations     int     // Iteration cap for Gauss-Newton refinement
	ConvergenceThresh float64 // Stop when RMS residual drops below this (m)
	MinAnchors        int     // Minimum distinct anchors required to attempt a solve
	OutlierFactor     float64 // Drop distances above this multiple of the max anchor separation
	MaxStep           float64 // Clamp per-iteration update magnitude to this (m)
	MaxCoordinate     float64 // Abort when any coordinate exceeds this absolute value (m)
	ZFloorMargin      float64 // Allowed margin below the lowest anchor (m)
	ZCeilMargin       float64 // Allowed margin above the highest anchor (m)
}

// DefaultSolverConfig returns the tuning used in production. The outlier and
// convergence thresholds assume room-scale anchor spacing; deployments with
// very sparse anchors or noisy sensors may want to loosen them.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		MaxIterations:     50,
		ConvergenceThresh: 0.1, // 10cm
		MinAnchors:        3,
		OutlierFactor:     2.0,
		MaxStep:           5.0,
		MaxCoordinate:     100.0,
		ZFloorMargin:      0.5,
		ZCeilMargin:       5.0,
	}
}

// SolveResult is the outcome of one trilateration pass.
type SolveResult struct {
	Position   Vec3
	RMS        float64 // final RMS residual (m); a natural confidence input
	Iterations int
	Converged  bool
	Used       int // measurements surviving outlier filtering
}

// Solve estimates a 3D position from distance measurements to fixed anchors
// using iterative least squares.
//
// The pipeline: require at least cfg.MinAnchors distinct anchors, drop
// geometrically impossible distances (greater than OutlierFactor times the
// widest anchor separation), seed the estimate at the anchor centroid, then
// refine with damped Gauss-Newton steps until the RMS residual falls below
// ConvergenceThresh or the iteration cap is reached. Hitting the cap is not a
// failure; the last estimate is returned best-effort. The solved Z is clamped
// into the anchors' mounting range plus margins regardless of convergence.
//
// Solve is pure and deterministic: identical inputs produce identical output.
func Solve(ms []Measurement, cfg SolverConfig) (SolveResult, error) {
	ms = dedupeByAnchor(ms)

	if len(ms) < cfg.MinAnchors {
		return SolveResult{}, ErrInsufficientAnchors
	}

	positions := make([]Vec3, len(ms))
	for i, m := range ms {
		positions[i] = m.Position
	}

	// Outlier rejection: any measured distance beyond OutlierFactor times the
	// widest anchor separation cannot intersect the anchor cloud and would
	// drag the fit.
	maxSep := maxPairwiseSeparation(positions)
	threshold := cfg.OutlierFactor * maxSep
	filtered := ms[:0:0]
	for _, m := range ms {
		if m.Distance > threshold {
			log.Printf("[DEBUG] solver: filtering outlier %s distance %.2fm > threshold %.2fm",
				m.AnchorID, m.Distance, threshold)
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) < cfg.MinAnchors {
		return SolveResult{}, ErrInsufficientAfterFilter
	}
	ms = filtered

	logTriangleViolations(ms)

	anchors := make([]Vec3, len(ms))
	for i, m := range ms {
		anchors[i] = m.Position
	}

	// Seed at the anchor centroid so the result is reproducible.
	est := Centroid(anchors)

	result := SolveResult{Used: len(ms)}
	residuals := make([]float64, len(ms))

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		result.Iterations = iter + 1

		for i, m := range ms {
			residuals[i] = m.Distance - est.Dist(m.Position)
		}
		result.RMS = RMS(residuals)

		if result.RMS < cfg.ConvergenceThresh {
			result.Converged = true
			break
		}

		// Each residual pushes the estimate along the anchor-to-estimate
		// axis: away from anchors whose reading is longer than the current
		// distance, toward anchors whose reading is shorter. Anchors the
		// estimate is sitting on top of (sub-mm calculated distance) are
		// skipped to avoid dividing by zero.
		var step Vec3
		for i, m := range ms {
			calc := est.Dist(m.Position)
			if calc <= 0.001 {
				continue
			}
			away := est.Sub(m.Position).Scale(1.0 / calc)
			step = step.Add(away.Scale(residuals[i]))
		}

		// Average the correction over the anchors; the raw sum scales with
		// the anchor count and overshoots the minimum.
		step = step.Scale(1.0 / float64(len(ms)))

		// Damp the step so a single bad residual cannot launch the estimate
		// across the building.
		if mag := step.Norm(); mag > cfg.MaxStep {
			step = step.Scale(cfg.MaxStep / mag)
		}

		est = est.Add(step)

		if exceedsBounds(est, cfg.MaxCoordinate) {
			log.Printf("[DEBUG] solver: diverging at iteration %d: pos=(%.2f, %.2f, %.2f) rms=%.2fm",
				iter, est.X, est.Y, est.Z, result.RMS)
			return SolveResult{}, ErrDiverged
		}
	}

	// Keep Z physically plausible relative to anchor mounting heights. Applied
	// unconditionally, including on best-effort non-converged results.
	minZ, maxZ := anchors[0].Z, anchors[0].Z
	for _, p := range anchors[1:] {
		minZ = math.Min(minZ, p.Z)
		maxZ = math.Max(maxZ, p.Z)
	}
	est.Z = math.Max(math.Min(est.Z, maxZ+cfg.ZCeilMargin), minZ-cfg.ZFloorMargin)

	// Defensive re-check; the divergence guard should make this unreachable.
	if exceedsBounds(est, cfg.MaxCoordinate) {
		return SolveResult{}, ErrUnreasonableResult
	}

	result.Position = est
	return result, nil
}

// dedupeByAnchor keeps the first measurement seen for each anchor ID.
func dedupeByAnchor(ms []Measurement) []Measurement {
	seen := make(map[string]bool, len(ms))
	out := ms[:0:0]
	for _, m := range ms {
		if seen[m.AnchorID] {
			continue
		}
		seen[m.AnchorID] = true
		out = append(out, m)
	}
	return out
}

func exceedsBounds(v Vec3, limit float64) bool {
	return math.Abs(v.X) > limit || math.Abs(v.Y) > limit || math.Abs(v.Z) > limit
}

// logTriangleViolations reports measurement pairs whose distances are
// inconsistent with the separation of their anchors. Purely diagnostic; the
// solver still attempts the fit.
func logTriangleViolations(ms []Measurement) {
	for i := 0; i < len(ms); i++ {
		for j := i + 1; j < len(ms); j++ {
			sep := ms[i].Position.Dist(ms[j].Position)
			sum := ms[i].Distance + ms[j].Distance
			diff := math.Abs(ms[i].Distance - ms[j].Distance)
			if sep > sum || sep < diff {
				log.Printf("[DEBUG] solver: triangle inequality violated: anchors %s,%s are %.2fm apart but distances %.2fm and %.2fm imply range [%.2fm, %.2fm]",
					ms[i].AnchorID, ms[j].AnchorID, sep, ms[i].Distance, ms[j].Distance, diff, sum)
			}
		}
	}
}
