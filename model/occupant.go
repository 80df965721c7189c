package model

import "fmt"

// Floor identifies one of the monitored building floors.
type Floor int

const (
	F1 Floor = iota + 1
	F2
	F3
)

// AllFloors lists every monitored floor in ascending order.
var AllFloors = []Floor{F1, F2, F3}

// floorLevels maps a floor to the building level shown on the dashboard.
var floorLevels = map[Floor]int{
	F1: 6,
	F2: 7,
	F3: 8,
}

// Valid reports whether f is one of the monitored floors.
func (f Floor) Valid() bool {
	_, ok := floorLevels[f]
	return ok
}

// Level returns the building level the floor represents, or 0 when unknown.
func (f Floor) Level() int {
	return floorLevels[f]
}

func (f Floor) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Floor(%d)", int(f))
	}
	return fmt.Sprintf("F%d", int(f))
}

// MarshalText renders the floor label, so floors key JSON maps as "F1".
func (f Floor) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("unknown floor %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText accepts any form understood by ParseFloor.
func (f *Floor) UnmarshalText(text []byte) error {
	parsed, err := ParseFloor(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFloor accepts "F1".."F3" or the building level ("6".."8").
func ParseFloor(s string) (Floor, error) {
	for _, f := range AllFloors {
		if s == f.String() || s == fmt.Sprint(f.Level()) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown floor %q", s)
}

// Occupant is a simulated person inside the building. X and Y are
// building-local coordinates in [0,100].
type Occupant struct {
	ID    int     `json:"id"`
	Floor Floor   `json:"floor"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Safe  bool    `json:"safe"`
}

// ProjectedPosition is an occupant placed on the map. It is derived on every
// call and never stored.
type ProjectedPosition struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Floor Floor   `json:"floor"`
	Safe  bool    `json:"safe"`
}

// AggregateMetrics is a view computed from the occupant set.
type AggregateMetrics struct {
	FloorCounts map[Floor]int `json:"floor_counts"`
	Safe        int           `json:"safe"`
	Unsafe      int           `json:"unsafe"`
	Total       int           `json:"total"`
}

// FloorSum returns the sum of all per-floor counts.
func (m AggregateMetrics) FloorSum() int {
	sum := 0
	for _, c := range m.FloorCounts {
		sum += c
	}
	return sum
}
