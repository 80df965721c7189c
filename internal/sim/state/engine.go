package state

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/occupancy-monitor/core"
	"github.com/signalsfoundry/occupancy-monitor/internal/bridge"
	"github.com/signalsfoundry/occupancy-monitor/internal/logging"
	"github.com/signalsfoundry/occupancy-monitor/internal/observability"
	"github.com/signalsfoundry/occupancy-monitor/kb"
	"github.com/signalsfoundry/occupancy-monitor/model"
	"github.com/signalsfoundry/occupancy-monitor/timectrl"
	"go.opentelemetry.io/otel/attribute"
)

// Re-export registry sentinel errors so callers can depend on state.*
// instead of kb.* directly.
var (
	// ErrInvalidConfig indicates an invalid population configuration.
	ErrInvalidConfig = kb.ErrInvalidConfig
	// ErrOccupantNotFound indicates a requested occupant does not exist.
	ErrOccupantNotFound = kb.ErrOccupantNotFound
)

// DefaultOccupantCount is the session population.
const DefaultOccupantCount = 50

// IdleAction is shown when the effective event carries no action.
const IdleAction = "Idle"

const tracerName = "occupancy-monitor/engine"

// EngineMetricsRecorder receives engine gauges after every state change.
// *observability.EngineCollector satisfies it.
type EngineMetricsRecorder interface {
	SetOccupancy(m model.AggregateMetrics)
	IncTicks()
	SetEmergency(emergency, override bool)
	SetResponder(r model.Responder)
	SetRefreshRunning(running bool)
}

// Engine owns one monitoring session: the occupant registry, the event
// store, the refresh scheduler, the responder and the operator override.
type Engine struct {
	// tickMu serialises whole ticks, including the source poll that runs
	// outside mu. Read views never take it.
	tickMu sync.Mutex
	// mu guards every field below.
	mu sync.RWMutex

	registry   *kb.Registry
	events     *EventStore
	source     bridge.EventSource
	scheduler  *timectrl.Scheduler
	clock      timectrl.SimClock
	mapper     core.Mapper
	dispatcher core.Dispatcher
	rng        core.Rand

	count  int
	floors []model.Floor

	responder model.Responder
	override  bool
	tick      uint64
	tickedAt  time.Time
	sessionID string

	log     logging.Logger
	metrics EngineMetricsRecorder
}

// Snapshot is a consistent read view of the session.
type Snapshot struct {
	SessionID  string                    `json:"session_id"`
	Tick       uint64                    `json:"tick"`
	TickedAt   time.Time                 `json:"ticked_at"`
	Refresh    string                    `json:"refresh"`
	Metrics    model.AggregateMetrics    `json:"metrics"`
	Positions  []model.ProjectedPosition `json:"positions"`
	Event      model.EmergencyEvent      `json:"event"`
	Action     string                    `json:"action"`
	Override   bool                      `json:"override"`
	Alert      model.Alert               `json:"alert"`
	Evacuation core.EvacuationPlan       `json:"evacuation"`
	Exits      []core.Exit               `json:"exits"`
	Responder  model.Responder           `json:"responder"`
}

// EngineOption customises Engine construction.
type EngineOption func(*Engine)

// WithRegistry replaces the default occupant registry.
func WithRegistry(r *kb.Registry) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithEventSource attaches the external event source polled on every tick.
func WithEventSource(src bridge.EventSource) EngineOption {
	return func(e *Engine) {
		e.source = src
	}
}

// WithRand injects the randomness used for initialization and ticks.
func WithRand(rng core.Rand) EngineOption {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// WithSeed seeds a PCG generator for reproducible sessions.
func WithSeed(seed uint64) EngineOption {
	return WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// WithPopulation sets the occupant count and floors used by Initialize.
func WithPopulation(count int, floors []model.Floor) EngineOption {
	return func(e *Engine) {
		e.count = count
		e.floors = append([]model.Floor(nil), floors...)
	}
}

// WithAnchor moves the map anchor.
func WithAnchor(anchor core.LatLon) EngineOption {
	return func(e *Engine) {
		e.mapper = core.NewMapper(anchor)
	}
}

// WithResponderStart sets where the responder waits before dispatch.
func WithResponderStart(r model.Responder) EngineOption {
	return func(e *Engine) {
		e.responder = r
	}
}

// WithScheduler shares a refresh scheduler with a TimeController.
func WithScheduler(s *timectrl.Scheduler) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.scheduler = s
		}
	}
}

// WithClock sets the clock used to timestamp ticks.
func WithClock(c timectrl.SimClock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetricsRecorder wires a metrics recorder.
func WithMetricsRecorder(rec EngineMetricsRecorder) EngineOption {
	return func(e *Engine) {
		e.metrics = rec
	}
}

// NewEngine constructs an Engine. Call Initialize before ticking.
func NewEngine(opts ...EngineOption) *Engine {
	seed := uint64(time.Now().UnixNano())
	e := &Engine{
		registry:   kb.NewRegistry(),
		events:     NewEventStore(),
		scheduler:  timectrl.NewScheduler(timectrl.Running),
		clock:      timectrl.RealClock{},
		mapper:     core.NewMapper(core.DefaultAnchor),
		dispatcher: core.NewDispatcher(),
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		count:      DefaultOccupantCount,
		floors:     append([]model.Floor(nil), model.AllFloors...),
		responder:  core.DefaultResponderStart,
		sessionID:  uuid.NewString(),
		log:        logging.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logging.String("session_id", e.sessionID))
	return e
}

// SessionID identifies this engine instance.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Scheduler returns the refresh scheduler, for sharing with a TimeController.
func (e *Engine) Scheduler() *timectrl.Scheduler {
	return e.scheduler
}

// Initialize populates the registry. It is a no-op once the registry holds
// occupants and returns ErrInvalidConfig for a bad population.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.Initialize(e.count, e.floors, e.rng); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}
	agg := e.registry.Aggregate()
	e.publishLocked(agg, e.effectiveLocked())
	e.log.Info(ctx, "session initialized",
		logging.Int("occupants", agg.Total),
		logging.Int("floors", len(e.floors)),
	)
	return nil
}

// Tick runs one refresh: advance occupants, poll the event source, update
// the store, merge the override and advance the responder. The source is
// polled outside the engine lock; concurrent ticks run one after another.
func (e *Engine) Tick(ctx context.Context) Snapshot {
	ctx, span := observability.StartSpan(ctx, tracerName, "engine.Tick",
		attribute.String("session.id", e.sessionID),
	)
	defer span.End()

	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	e.registry.AdvanceTick(e.rng)
	source := e.source
	e.mu.Unlock()

	var (
		ev     model.EmergencyEvent
		polled bool
	)
	if source != nil {
		ev, polled = source.Poll(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if polled {
		e.events.Set(ev)
	}
	effective := e.effectiveLocked()
	e.responder = e.dispatcher.Advance(e.responder, effective.Emergency)
	e.tick++
	e.tickedAt = e.clock.Now()

	agg := e.registry.Aggregate()
	if e.metrics != nil {
		e.metrics.IncTicks()
	}
	e.publishLocked(agg, effective)

	span.SetAttributes(
		attribute.Int64("engine.tick", int64(e.tick)),
		attribute.Bool("event.polled", polled),
		attribute.Bool("event.emergency", effective.Emergency),
		attribute.String("event.severity", effective.Severity.String()),
	)
	e.log.Debug(ctx, "tick complete",
		logging.Int("tick", int(e.tick)),
		logging.Bool("event_polled", polled),
		logging.String("severity", effective.Severity.String()),
		logging.Bool("emergency", effective.Emergency),
	)
	return e.snapshotLocked(agg, effective)
}

// TickListener adapts Tick to a timectrl listener.
func (e *Engine) TickListener(ctx context.Context) func(time.Time) {
	return func(time.Time) {
		e.Tick(ctx)
	}
}

// Snapshot returns the current read view without advancing anything.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked(e.registry.Aggregate(), e.effectiveLocked())
}

// Metrics returns the aggregate occupancy view.
func (e *Engine) Metrics() model.AggregateMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Aggregate()
}

// Positions projects every occupant, or only those on floor when it is valid.
func (e *Engine) Positions(floor model.Floor) []model.ProjectedPosition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if floor.Valid() {
		return e.mapper.ProjectAll(e.registry.ByFloor(floor))
	}
	return e.mapper.ProjectAll(e.registry.List())
}

// Density returns the occupancy heatmap.
func (e *Engine) Density(bins int) kb.DensityGrid {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Density(bins)
}

// Event returns the effective event, override applied.
func (e *Engine) Event() model.EmergencyEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.effectiveLocked()
}

// StoredEvent returns the event held by the store, ignoring the override.
func (e *Engine) StoredEvent() model.EmergencyEvent {
	return e.events.Get()
}

// Responder returns the current responder position.
func (e *Engine) Responder() model.Responder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.responder
}

// SetOverride toggles the operator override. It never touches the store.
func (e *Engine) SetOverride(ctx context.Context, active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.override == active {
		return
	}
	e.override = active
	effective := e.effectiveLocked()
	if e.metrics != nil {
		e.metrics.SetEmergency(effective.Emergency, e.override)
	}
	e.log.Info(ctx, "operator override changed", logging.Bool("active", active))
}

// Override reports whether the operator override is active.
func (e *Engine) Override() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.override
}

// StartRefresh resumes automatic refresh.
func (e *Engine) StartRefresh(ctx context.Context) {
	e.scheduler.Start()
	if e.metrics != nil {
		e.metrics.SetRefreshRunning(true)
	}
	e.log.Info(ctx, "refresh started")
}

// PauseRefresh stops automatic refresh. Manual ticks still run.
func (e *Engine) PauseRefresh(ctx context.Context) {
	e.scheduler.Pause()
	if e.metrics != nil {
		e.metrics.SetRefreshRunning(false)
	}
	e.log.Info(ctx, "refresh paused")
}

// SetSafe marks an occupant safe or unsafe. It is the only path that
// changes safety status.
func (e *Engine) SetSafe(ctx context.Context, id int, safe bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.registry.SetSafe(id, safe); err != nil {
		return err
	}
	e.publishLocked(e.registry.Aggregate(), e.effectiveLocked())
	e.log.Info(ctx, "occupant safety updated", logging.Int("occupant_id", id), logging.Bool("safe", safe))
	return nil
}

func (e *Engine) effectiveLocked() model.EmergencyEvent {
	return MergeOverride(e.events.Get(), e.override)
}

func (e *Engine) publishLocked(agg model.AggregateMetrics, effective model.EmergencyEvent) {
	if e.metrics == nil {
		return
	}
	e.metrics.SetOccupancy(agg)
	e.metrics.SetEmergency(effective.Emergency, e.override)
	e.metrics.SetResponder(e.responder)
	e.metrics.SetRefreshRunning(e.scheduler.Mode() == timectrl.Running)
}

func (e *Engine) snapshotLocked(agg model.AggregateMetrics, effective model.EmergencyEvent) Snapshot {
	action := effective.Action
	if action == "" {
		action = IdleAction
	}
	return Snapshot{
		SessionID:  e.sessionID,
		Tick:       e.tick,
		TickedAt:   e.tickedAt,
		Refresh:    e.scheduler.Mode().String(),
		Metrics:    agg,
		Positions:  e.mapper.ProjectAll(e.registry.List()),
		Event:      effective,
		Action:     action,
		Override:   e.override,
		Alert:      model.AlertFor(effective.Severity),
		Evacuation: core.PlanEvacuation(effective),
		Exits:      core.Exits(e.mapper.Anchor, effective.Emergency),
		Responder:  e.responder,
	}
}
