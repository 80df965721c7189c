package kb

import "github.com/signalsfoundry/occupancy-monitor/core"

// DefaultDensityBins matches the dashboard heatmap resolution.
const DefaultDensityBins = 25

// DensityGrid is a bins x bins occupancy histogram over the building plane.
// Cells[i][j] counts occupants whose X falls into bin i and Y into bin j.
type DensityGrid struct {
	Bins  int     `json:"bins"`
	Cells [][]int `json:"cells"`
}

// Density builds a histogram over [0,100]^2. Non-positive bins fall back to
// DefaultDensityBins.
func (r *Registry) Density(bins int) DensityGrid {
	if bins <= 0 {
		bins = DefaultDensityBins
	}
	cells := make([][]int, bins)
	for i := range cells {
		cells[i] = make([]int, bins)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.occupants {
		cells[binOf(o.X, bins)][binOf(o.Y, bins)]++
	}
	return DensityGrid{Bins: bins, Cells: cells}
}

// binOf places the upper bound in the last bin.
func binOf(v float64, bins int) int {
	width := (core.MaxCoord - core.MinCoord) / float64(bins)
	idx := int((core.Clamp(v) - core.MinCoord) / width)
	if idx >= bins {
		idx = bins - 1
	}
	return idx
}
