package core

import "github.com/signalsfoundry/occupancy-monitor/model"

// Exit is a building exit placed on the map.
type Exit struct {
	Name     string `json:"name"`
	Position LatLon `json:"position"`
	Blocked  bool   `json:"blocked"`
}

// Exit offsets from the anchor, in degrees.
const exitOffset = 0.00003

// Exits returns the building exits for the given anchor. Exit A is blocked
// while an emergency is active.
func Exits(anchor LatLon, emergency bool) []Exit {
	return []Exit{
		{Name: "Exit A", Position: LatLon{Lat: anchor.Lat - exitOffset, Lon: anchor.Lon}, Blocked: emergency},
		{Name: "Exit B", Position: LatLon{Lat: anchor.Lat, Lon: anchor.Lon + exitOffset}},
	}
}

// EvacuationPlan is the advisory shown alongside the effective event.
type EvacuationPlan struct {
	Active   bool     `json:"active"`
	Hazard   string   `json:"hazard,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Route    []string `json:"route,omitempty"`
	Summary  string   `json:"summary"`
}

// PlanEvacuation derives the advisory from the effective event.
func PlanEvacuation(ev model.EmergencyEvent) EvacuationPlan {
	if !ev.Emergency {
		return EvacuationPlan{Summary: "No Emergency Detected"}
	}
	return EvacuationPlan{
		Active:   true,
		Hazard:   "Fire detected near Exit A",
		Warnings: []string{"Exit A Blocked"},
		Route:    []string{"Corridor C", "Staircase 2", "Exit B"},
		Summary:  "Corridor C -> Staircase 2 -> Exit B",
	}
}
