package core

import "github.com/signalsfoundry/occupancy-monitor/model"

// DispatchStep is the per-tick degree increment applied to an active
// responder on both axes.
const DispatchStep = 0.00001

// DefaultResponderStart is where the ambulance waits before dispatch.
var DefaultResponderStart = model.Responder{Lat: 12.9645, Lon: 77.7180}

// Dispatcher moves the simulated responder in a straight line while an
// emergency is active.
type Dispatcher struct {
	Step float64
}

// NewDispatcher returns a Dispatcher using DispatchStep.
func NewDispatcher() Dispatcher {
	return Dispatcher{Step: DispatchStep}
}

// Advance returns the responder moved by one step when active, or unchanged
// otherwise. Deactivating freezes the responder in place.
func (d Dispatcher) Advance(r model.Responder, active bool) model.Responder {
	if !active {
		return r
	}
	step := d.Step
	if step <= 0 {
		step = DispatchStep
	}
	return model.Responder{Lat: r.Lat + step, Lon: r.Lon + step}
}
