package kb

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/signalsfoundry/occupancy-monitor/core"
	"github.com/signalsfoundry/occupancy-monitor/model"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestInitializePopulatesAcrossFloors(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Initialize(50, model.AllFloors, seeded(1)); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	m := reg.Aggregate()
	if m.Total != 50 {
		t.Fatalf("Total = %d, want 50", m.Total)
	}
	for _, f := range model.AllFloors {
		if m.FloorCounts[f] < 0 {
			t.Fatalf("floor %v count = %d, want >= 0", f, m.FloorCounts[f])
		}
	}
	if got := m.FloorSum(); got != 50 {
		t.Fatalf("floor counts sum = %d, want 50", got)
	}
	if m.Safe+m.Unsafe != m.Total {
		t.Fatalf("safe %d + unsafe %d != total %d", m.Safe, m.Unsafe, m.Total)
	}
	for _, o := range reg.List() {
		if o.X < 0 || o.X > 100 || o.Y < 0 || o.Y > 100 {
			t.Fatalf("occupant %d initialised out of bounds: (%v, %v)", o.ID, o.X, o.Y)
		}
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Initialize(10, model.AllFloors, seeded(2)); err != nil {
		t.Fatalf("first Initialize error: %v", err)
	}
	before := reg.List()

	if err := reg.Initialize(30, []model.Floor{model.F1}, seeded(3)); err != nil {
		t.Fatalf("second Initialize error: %v", err)
	}
	if err := reg.Initialize(0, nil, nil); err != nil {
		t.Fatalf("Initialize on a populated registry with invalid arguments = %v, want no-op", err)
	}
	after := reg.List()
	if len(after) != 10 {
		t.Fatalf("occupant count after second Initialize = %d, want 10", len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("occupant %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		count  int
		floors []model.Floor
	}{
		{"no floors", 10, nil},
		{"zero count", 0, model.AllFloors},
		{"negative count", -5, model.AllFloors},
		{"unknown floor", 10, []model.Floor{model.Floor(9)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.Initialize(tc.count, tc.floors, seeded(4))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Initialize error = %v, want ErrInvalidConfig", err)
			}
			if reg.Len() != 0 {
				t.Fatalf("registry populated despite invalid config: %d", reg.Len())
			}
		})
	}
}

func TestAdvanceTickKeepsBounds(t *testing.T) {
	reg := NewRegistry()
	rng := seeded(5)
	if err := reg.Initialize(200, model.AllFloors, rng); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	for range 500 {
		reg.AdvanceTick(rng)
	}
	for _, o := range reg.List() {
		if o.X < 0 || o.X > 100 || o.Y < 0 || o.Y > 100 {
			t.Fatalf("occupant %d out of bounds after ticks: (%v, %v)", o.ID, o.X, o.Y)
		}
	}
}

func TestAdvanceTickExactForSeed(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Initialize(5, model.AllFloors, seeded(6)); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	start := reg.List()

	reg.AdvanceTick(seeded(7))

	// Replay the same draws by hand.
	replay := seeded(7)
	for i, o := range reg.List() {
		wantX := core.Clamp(start[i].X + (2*replay.Float64() - 1))
		wantY := core.Clamp(start[i].Y + (2*replay.Float64() - 1))
		if o.X != wantX || o.Y != wantY {
			t.Fatalf("occupant %d = (%v, %v), want (%v, %v)", i, o.X, o.Y, wantX, wantY)
		}
	}
}

func TestAdvanceTickPreservesIdentityFloorAndSafety(t *testing.T) {
	reg := NewRegistry()
	rng := seeded(8)
	if err := reg.Initialize(40, model.AllFloors, rng); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	before := reg.List()
	for range 20 {
		reg.AdvanceTick(rng)
	}
	after := reg.List()
	if len(after) != len(before) {
		t.Fatalf("len changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if after[i].ID != before[i].ID || after[i].Floor != before[i].Floor || after[i].Safe != before[i].Safe {
			t.Fatalf("occupant %d identity changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestEmptyRegistryIsValid(t *testing.T) {
	reg := NewRegistry()
	reg.AdvanceTick(seeded(9))
	m := reg.Aggregate()
	if m.Total != 0 || m.Safe != 0 || m.Unsafe != 0 || m.FloorSum() != 0 {
		t.Fatalf("empty aggregate = %+v, want zero", m)
	}
}

func TestSetSafe(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Initialize(3, model.AllFloors, seeded(10)); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if err := reg.SetSafe(1, true); err != nil {
		t.Fatalf("SetSafe error: %v", err)
	}
	o, err := reg.Get(1)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !o.Safe {
		t.Fatalf("occupant 1 not marked safe")
	}
	if err := reg.SetSafe(99, true); !errors.Is(err, ErrOccupantNotFound) {
		t.Fatalf("SetSafe unknown id error = %v, want ErrOccupantNotFound", err)
	}
}

func TestByFloorAndDensity(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Initialize(60, model.AllFloors, seeded(11)); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	m := reg.Aggregate()
	for _, f := range model.AllFloors {
		if got := len(reg.ByFloor(f)); got != m.FloorCounts[f] {
			t.Fatalf("ByFloor(%v) = %d, want %d", f, got, m.FloorCounts[f])
		}
	}

	grid := reg.Density(0)
	if grid.Bins != DefaultDensityBins {
		t.Fatalf("Bins = %d, want %d", grid.Bins, DefaultDensityBins)
	}
	sum := 0
	for _, row := range grid.Cells {
		for _, c := range row {
			sum += c
		}
	}
	if sum != 60 {
		t.Fatalf("density sum = %d, want 60", sum)
	}
}

func TestBinOfUpperEdge(t *testing.T) {
	if got := binOf(100, 25); got != 24 {
		t.Fatalf("binOf(100) = %d, want 24", got)
	}
	if got := binOf(0, 25); got != 0 {
		t.Fatalf("binOf(0) = %d, want 0", got)
	}
}

func TestConcurrentTickAndAggregate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Initialize(100, model.AllFloors, seeded(12)); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rng := seeded(13)
		for range 100 {
			reg.AdvanceTick(rng)
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			if m := reg.Aggregate(); m.Total != 100 {
				t.Errorf("Total = %d, want 100", m.Total)
				return
			}
		}
	}()
	wg.Wait()
}
