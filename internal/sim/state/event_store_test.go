package state

import (
	"testing"

	"github.com/signalsfoundry/occupancy-monitor/model"
)

func TestEventStoreDefault(t *testing.T) {
	s := NewEventStore()
	got := s.Get()
	if got.Severity != model.SeverityNormal || got.Message != "No emergency detected" || got.Emergency {
		t.Fatalf("default event = %+v", got)
	}
}

func TestEventStoreSetReplacesWholesale(t *testing.T) {
	s := NewEventStore()
	s.Set(model.EmergencyEvent{Severity: model.SeverityHigh, Message: "smoke", Emergency: true, Action: "evacuate"})
	s.Set(model.EmergencyEvent{Severity: model.SeverityLow, Message: "cleared"})

	got := s.Get()
	want := model.EmergencyEvent{Severity: model.SeverityLow, Message: "cleared"}
	if got != want {
		t.Fatalf("Get() = %+v, want %+v", got, want)
	}
}

func TestMergeOverride(t *testing.T) {
	base := model.EmergencyEvent{Severity: model.SeverityNormal, Emergency: false}

	forced := MergeOverride(base, true)
	if forced.Severity != model.SeverityCritical || !forced.Emergency || forced.Action != EvacuationAction {
		t.Fatalf("MergeOverride(active) = %+v", forced)
	}
	if got := MergeOverride(base, false); got != base {
		t.Fatalf("MergeOverride(inactive) = %+v, want base %+v", got, base)
	}
}

func TestMergeOverrideDoesNotTouchStore(t *testing.T) {
	s := NewEventStore()
	held := model.EmergencyEvent{Severity: model.SeverityLow, Message: "drill"}
	s.Set(held)

	_ = MergeOverride(s.Get(), true)
	if got := s.Get(); got != held {
		t.Fatalf("store changed by override: %+v", got)
	}
}
