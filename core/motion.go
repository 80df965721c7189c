package core

import "github.com/signalsfoundry/occupancy-monitor/model"

// Rand is the randomness source used by the simulation. *rand.Rand from
// math/rand/v2 satisfies it; tests pass a seeded generator.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// MotionModel updates an occupant's position for one tick.
type MotionModel interface {
	Step(o *model.Occupant, rng Rand)
}

// StaticMotionModel leaves the occupant where it is.
type StaticMotionModel struct{}

// Step does nothing.
func (StaticMotionModel) Step(*model.Occupant, Rand) {}

// RandomWalk perturbs X and Y independently by a uniform draw from
// [-MaxStep, MaxStep] and clamps the result to the building bounds.
type RandomWalk struct {
	MaxStep float64
}

// DefaultRandomWalk moves occupants by at most one unit per axis per tick.
var DefaultRandomWalk = RandomWalk{MaxStep: 1}

// Step draws the X offset first, then the Y offset.
func (w RandomWalk) Step(o *model.Occupant, rng Rand) {
	o.X = Clamp(o.X + w.draw(rng))
	o.Y = Clamp(o.Y + w.draw(rng))
}

func (w RandomWalk) draw(rng Rand) float64 {
	return (2*rng.Float64() - 1) * w.MaxStep
}

// Uniform returns a value drawn uniformly from [lo, hi).
func Uniform(rng Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
