package trilat

import "strings"

// Anchor is a fixed reference point with a known position, identified by a
// stable ID and optionally carrying a human-friendly alias (e.g. the device
// name from a registry). Anchors are defined by the floorplan and are
// read-only to the matcher and solver.
type Anchor struct {
	ID       string
	Position Vec3
	Alias    string
}

// NormalizeName lowercases a name and replaces spaces and hyphens with
// underscores so sensor labels, anchor IDs, and aliases compare consistently.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

// Match precedence tiers, lowest wins. Exact matches always beat partial
// matches, and ID matches beat alias matches within the same kind.
const (
	matchExactID = iota + 1
	matchExactAlias
	matchIDInLabel
	matchLabelInID
	matchAliasInLabel
	matchNone
)

// matchTier returns the best precedence tier at which the normalized label
// matches the given anchor, or matchNone.
func matchTier(label string, a Anchor) int {
	id := NormalizeName(a.ID)
	alias := ""
	if a.Alias != "" {
		alias = NormalizeName(a.Alias)
	}

	switch {
	case label == id:
		return matchExactID
	case alias != "" && label == alias:
		return matchExactAlias
	case strings.Contains(label, id):
		return matchIDInLabel
	case strings.Contains(id, label):
		return matchLabelInID
	case alias != "" && strings.Contains(label, alias):
		return matchAliasInLabel
	}
	return matchNone
}

// MatchAnchor resolves a free-text sensor label to the best-matching anchor.
//
// The label is normalized, then every anchor is scored by precedence tier:
// exact ID, exact alias, ID substring of label, label substring of ID, alias
// substring of label. The anchor with the lowest tier wins; ties go to the
// first anchor in slice order. Returns false when nothing matches, which is a
// normal outcome for sensors that point at unconfigured nodes.
func MatchAnchor(label string, anchors []Anchor) (Anchor, bool) {
	normalized := NormalizeName(label)

	best := matchNone
	var bestAnchor Anchor
	for _, a := range anchors {
		if tier := matchTier(normalized, a); tier < best {
			best = tier
			bestAnchor = a
			if best == matchExactID {
				break
			}
		}
	}

	if best == matchNone {
		return Anchor{}, false
	}
	return bestAnchor, true
}
