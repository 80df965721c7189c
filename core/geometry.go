package core

import "github.com/signalsfoundry/occupancy-monitor/model"

// CoordinateScale converts building-local units into degrees. It only keeps
// the simulated building visually close to the anchor; it has no physical
// meaning.
const CoordinateScale = 100000.0

// Building-local coordinates are confined to [MinCoord, MaxCoord].
const (
	MinCoord = 0.0
	MaxCoord = 100.0
)

// LatLon is a geographic point in decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// DefaultAnchor is the reference point of the monitored building.
var DefaultAnchor = LatLon{Lat: 12.964958320625682, Lon: 77.71884266137646}

// Mapper projects building-local occupant coordinates onto the map.
type Mapper struct {
	Anchor LatLon
}

// NewMapper returns a Mapper anchored at the given point.
func NewMapper(anchor LatLon) Mapper {
	return Mapper{Anchor: anchor}
}

// Project converts a single occupant into a map position.
func (m Mapper) Project(o model.Occupant) model.ProjectedPosition {
	p := m.Offset(o.X, o.Y)
	return model.ProjectedPosition{
		Lat:   p.Lat,
		Lon:   p.Lon,
		Floor: o.Floor,
		Safe:  o.Safe,
	}
}

// ProjectAll projects every occupant, preserving order.
func (m Mapper) ProjectAll(occupants []model.Occupant) []model.ProjectedPosition {
	out := make([]model.ProjectedPosition, 0, len(occupants))
	for _, o := range occupants {
		out = append(out, m.Project(o))
	}
	return out
}

// Offset returns the anchor shifted by building-local units.
func (m Mapper) Offset(x, y float64) LatLon {
	return LatLon{
		Lat: m.Anchor.Lat + x/CoordinateScale,
		Lon: m.Anchor.Lon + y/CoordinateScale,
	}
}

// Clamp limits v to the building bounds.
func Clamp(v float64) float64 {
	if v < MinCoord {
		return MinCoord
	}
	if v > MaxCoord {
		return MaxCoord
	}
	return v
}
