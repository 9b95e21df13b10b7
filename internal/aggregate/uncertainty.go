package aggregate

import (
	"math"
	"time"
)

// Uncertainty is the clustering radius as a function of time since origin.
// Fresh events cluster tightly; older ones absorb delayed reports from a
// wider area.
type Uncertainty struct {
	BaseKm       float64
	GrowthPerMin float64
	MaxKm        float64
}

// Radius returns the clustering radius in km after elapsed time. Negative
// elapsed time is treated as zero.
func (u Uncertainty) Radius(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	r := u.BaseKm + u.GrowthPerMin*elapsed.Minutes()
	return math.Min(u.MaxKm, math.Max(u.BaseKm, r))
}
