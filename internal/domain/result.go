package domain

import "math"

// Dimension is one scored axis of a report. Label is bilingual-encoded.
type Dimension struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// DiscoveryResult is the final structured report of a session. Every text
// field is bilingual-encoded.
type DiscoveryResult struct {
	Title              string      `json:"title"`
	Summary            string      `json:"summary"`
	PhilosophicalTrend string      `json:"philosophicalTrend,omitempty"`
	KeyInsights        []string    `json:"keyInsights"`
	SuggestedPaths     []string    `json:"suggestedPaths"`
	Motto              string      `json:"motto"`
	Dimensions         []Dimension `json:"dimensions"`
}

// NormalizeDimensionValue maps a generator score onto an integer in [0,100].
// Values in (0,1] are read as fractions and scaled; anything else is rounded
// as-is.
func NormalizeDimensionValue(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	if v > 0 && v <= 1 {
		v *= 100
	}
	n := int(math.Round(v))
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return n
}
