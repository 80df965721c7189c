package state

import (
	"sync"

	"github.com/signalsfoundry/occupancy-monitor/model"
)

// DefaultEventMessage is reported until an event has been stored.
const DefaultEventMessage = "No emergency detected"

// EvacuationAction is the action forced by the operator override.
const EvacuationAction = "Fire detected Floor 7 | Evacuate via Exit B"

// OverrideMessage accompanies the forced override event.
const OverrideMessage = "Fire detected | AI evacuation activated | Ambulance dispatched"

// DefaultEvent is the event held before anything has been set.
func DefaultEvent() model.EmergencyEvent {
	return model.EmergencyEvent{
		Severity:  model.SeverityNormal,
		Message:   DefaultEventMessage,
		Emergency: false,
	}
}

// EventStore holds the latest known emergency event. The held event is
// independent of whether the bridge currently has data.
type EventStore struct {
	mu    sync.RWMutex
	event model.EmergencyEvent
	set   bool
}

// NewEventStore returns a store holding nothing.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// Set replaces the current event wholesale.
func (s *EventStore) Set(ev model.EmergencyEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event = ev
	s.set = true
}

// Get returns the current event, or DefaultEvent if none was ever set.
func (s *EventStore) Get() model.EmergencyEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return DefaultEvent()
	}
	return s.event
}

// MergeOverride returns the forced evacuation event when the operator override
// is active and base unchanged otherwise. The flag belongs to the caller.
func MergeOverride(base model.EmergencyEvent, overrideActive bool) model.EmergencyEvent {
	if !overrideActive {
		return base
	}
	return model.EmergencyEvent{
		Severity:  model.SeverityCritical,
		Message:   OverrideMessage,
		Emergency: true,
		Action:    EvacuationAction,
	}
}
