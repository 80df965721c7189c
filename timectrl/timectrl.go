package timectrl

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultRefreshInterval is how long the dashboard waits between refreshes.
const DefaultRefreshInterval = 3 * time.Second

// DefaultPollInterval is how often the controller consults the scheduler.
const DefaultPollInterval = 250 * time.Millisecond

// ErrInvalidInterval indicates a non-positive refresh interval.
var ErrInvalidInterval = errors.New("refresh interval must be positive")

// SimClock is an interface for reading the current time so the refresh loop
// can be driven by a manual clock in tests.
type SimClock interface {
	Now() time.Time
}

// RealClock reads wall-clock time.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// ManualClock is a SimClock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Mode describes whether automatic refresh is on.
type Mode int

const (
	// Running refreshes whenever the interval has elapsed.
	Running Mode = iota
	// Paused never refreshes automatically.
	Paused
)

func (m Mode) String() string {
	switch m {
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// Scheduler is the two-state refresh state machine. It starts Running.
type Scheduler struct {
	mu   sync.RWMutex
	mode Mode
}

// NewScheduler returns a scheduler in the given mode.
func NewScheduler(mode Mode) *Scheduler {
	return &Scheduler{mode: mode}
}

// Start switches to Running. Calling it while running is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = Running
}

// Pause switches to Paused. Calling it while paused is a no-op.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = Paused
}

// Mode returns the current state.
func (s *Scheduler) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// ShouldTick reports whether a refresh is due: the scheduler is running and
// strictly more than interval has passed since last. Callers update last
// themselves after running the tick pipeline.
func (s *Scheduler) ShouldTick(now, last time.Time, interval time.Duration) bool {
	if s.Mode() != Running {
		return false
	}
	return now.Sub(last) > interval
}

// TimeController polls the scheduler against a clock and notifies registered
// listeners whenever a refresh is due.
type TimeController struct {
	mu sync.Mutex

	Clock     SimClock
	Scheduler *Scheduler
	Interval  time.Duration
	Poll      time.Duration

	lastTick  time.Time
	listeners []func(time.Time)
}

// NewTimeController constructs a controller. It returns ErrInvalidInterval
// for a non-positive interval.
func NewTimeController(clock SimClock, sched *Scheduler, interval time.Duration) (*TimeController, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if clock == nil {
		clock = RealClock{}
	}
	if sched == nil {
		sched = NewScheduler(Running)
	}
	return &TimeController{
		Clock:     clock,
		Scheduler: sched,
		Interval:  interval,
		Poll:      DefaultPollInterval,
	}, nil
}

// AddListener registers a callback invoked on every refresh.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// LastTick returns the time of the last refresh, zero if none happened.
func (tc *TimeController) LastTick() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.lastTick
}

// Step consults the scheduler once and fires listeners when a refresh is due.
// It reports whether listeners ran.
func (tc *TimeController) Step() bool {
	now := tc.Clock.Now()

	tc.mu.Lock()
	if !tc.Scheduler.ShouldTick(now, tc.lastTick, tc.Interval) {
		tc.mu.Unlock()
		return false
	}
	tc.lastTick = now
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return true
}

// Trigger fires listeners immediately regardless of scheduler state, the
// equivalent of a manual refresh.
func (tc *TimeController) Trigger() {
	now := tc.Clock.Now()

	tc.mu.Lock()
	tc.lastTick = now
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
}

// Run polls until ctx is cancelled.
func (tc *TimeController) Run(ctx context.Context) {
	poll := tc.Poll
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	tc.Step()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tc.Step()
		}
	}
}

// Start runs the controller in a separate goroutine. It returns a channel
// that is closed when ctx is cancelled and the loop has exited.
func (tc *TimeController) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		tc.Run(ctx)
	}()
	return done
}
