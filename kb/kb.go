package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/occupancy-monitor/core"
	"github.com/signalsfoundry/occupancy-monitor/model"
)

var (
	// ErrInvalidConfig indicates Initialize was given an unusable population
	// or floor set.
	ErrInvalidConfig = errors.New("invalid registry configuration")
	// ErrOccupantNotFound indicates a requested occupant does not exist.
	ErrOccupantNotFound = errors.New("occupant not found")
)

// Registry is an in-memory, thread-safe owner of the occupant set. The
// collection is created once and only mutated in place afterwards.
type Registry struct {
	mu sync.RWMutex

	occupants []model.Occupant
	motion    core.MotionModel
}

// Option customises Registry construction.
type Option func(*Registry)

// WithMotionModel replaces the default random walk.
func WithMotionModel(m core.MotionModel) Option {
	return func(r *Registry) {
		if m != nil {
			r.motion = m
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{motion: core.DefaultRandomWalk}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Initialize populates the registry with count occupants when it is empty.
// Calling it on a populated registry is a no-op whatever the arguments. For
// every occupant the draws happen in order: floor, x, y, safety.
func (r *Registry) Initialize(count int, floors []model.Floor, rng core.Rand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.occupants) > 0 {
		return nil
	}
	if err := validatePopulation(count, floors); err != nil {
		return err
	}
	if rng == nil {
		return fmt.Errorf("%w: nil random source", ErrInvalidConfig)
	}
	occupants := make([]model.Occupant, count)
	for i := range occupants {
		occupants[i] = model.Occupant{
			ID:    i,
			Floor: floors[rng.IntN(len(floors))],
			X:     core.Uniform(rng, core.MinCoord, core.MaxCoord),
			Y:     core.Uniform(rng, core.MinCoord, core.MaxCoord),
			Safe:  rng.IntN(2) == 1,
		}
	}
	r.occupants = occupants
	return nil
}

func validatePopulation(count int, floors []model.Floor) error {
	if count <= 0 {
		return fmt.Errorf("%w: occupant count must be positive, got %d", ErrInvalidConfig, count)
	}
	if len(floors) == 0 {
		return fmt.Errorf("%w: floor set is empty", ErrInvalidConfig)
	}
	for _, f := range floors {
		if !f.Valid() {
			return fmt.Errorf("%w: unknown floor %v", ErrInvalidConfig, f)
		}
	}
	return nil
}

// AdvanceTick moves every occupant by one step of the motion model. Floor and
// safety status are never touched.
func (r *Registry) AdvanceTick(rng core.Rand) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.occupants {
		r.motion.Step(&r.occupants[i], rng)
	}
}

// Aggregate computes per-floor and safety counts in a single pass.
func (r *Registry) Aggregate() model.AggregateMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := model.AggregateMetrics{FloorCounts: make(map[model.Floor]int, len(model.AllFloors))}
	for _, o := range r.occupants {
		m.FloorCounts[o.Floor]++
		if o.Safe {
			m.Safe++
		} else {
			m.Unsafe++
		}
	}
	m.Total = len(r.occupants)
	return m
}

// Len returns the number of occupants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.occupants)
}

// List returns a snapshot copy of all occupants in ID order.
func (r *Registry) List() []model.Occupant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.Occupant, len(r.occupants))
	copy(res, r.occupants)
	return res
}

// ByFloor returns a snapshot of the occupants on one floor.
func (r *Registry) ByFloor(f model.Floor) []model.Occupant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Occupant
	for _, o := range r.occupants {
		if o.Floor == f {
			res = append(res, o)
		}
	}
	return res
}

// Get returns the occupant with the given ID.
func (r *Registry) Get(id int) (model.Occupant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.indexLocked(id)
	if idx < 0 {
		return model.Occupant{}, fmt.Errorf("%w: %d", ErrOccupantNotFound, id)
	}
	return r.occupants[idx], nil
}

// SetSafe is the only way to change an occupant's safety status.
func (r *Registry) SetSafe(id int, safe bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrOccupantNotFound, id)
	}
	r.occupants[idx].Safe = safe
	return nil
}

// indexLocked relies on IDs matching slice positions, falling back to a scan.
func (r *Registry) indexLocked(id int) int {
	if id >= 0 && id < len(r.occupants) && r.occupants[id].ID == id {
		return id
	}
	for i, o := range r.occupants {
		if o.ID == id {
			return i
		}
	}
	return -1
}
