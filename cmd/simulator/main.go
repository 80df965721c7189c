package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/occupancy-monitor/internal/bridge"
	"github.com/signalsfoundry/occupancy-monitor/internal/logging"
	sim "github.com/signalsfoundry/occupancy-monitor/internal/sim/state"
	"github.com/signalsfoundry/occupancy-monitor/model"
	"github.com/signalsfoundry/occupancy-monitor/timectrl"
)

// options drive a headless session.
type options struct {
	Duration  time.Duration
	Tick      time.Duration
	Seed      uint64
	Occupants int
	EventFile string
	FireAt    int
	Override  int
	JSON      bool
}

func main() {
	var opts options
	flag.DurationVar(&opts.Duration, "duration", 30*time.Second, "total simulated duration")
	flag.DurationVar(&opts.Tick, "tick", timectrl.DefaultRefreshInterval, "refresh interval")
	flag.Uint64Var(&opts.Seed, "seed", 1, "random seed")
	flag.IntVar(&opts.Occupants, "occupants", sim.DefaultOccupantCount, "number of simulated occupants")
	flag.StringVar(&opts.EventFile, "event-file", "", "event file to poll; empty disables the source")
	flag.IntVar(&opts.FireAt, "fire-at", 0, "tick at which a critical event is written to -event-file (0 disables)")
	flag.IntVar(&opts.Override, "override-at", 0, "tick at which the operator override is switched on (0 disables)")
	flag.BoolVar(&opts.JSON, "json", false, "emit one JSON snapshot per tick instead of a KPI line")
	flag.Parse()

	if err := simulate(context.Background(), opts, os.Stdout, logging.NewFromEnv()); err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
}

// simulate runs the tick pipeline against a manual clock, so a long session
// completes immediately.
func simulate(ctx context.Context, opts options, w io.Writer, log logging.Logger) error {
	if opts.Tick <= 0 {
		return timectrl.ErrInvalidInterval
	}

	engineOpts := []sim.EngineOption{
		sim.WithSeed(opts.Seed),
		sim.WithPopulation(opts.Occupants, model.AllFloors),
		sim.WithLogger(log),
	}
	if opts.EventFile != "" {
		engineOpts = append(engineOpts, sim.WithEventSource(bridge.New(bridge.NewFileFetcher(opts.EventFile), bridge.WithLogger(log))))
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := timectrl.NewManualClock(start)
	engine := sim.NewEngine(append(engineOpts, sim.WithClock(clock))...)
	if err := engine.Initialize(ctx); err != nil {
		return err
	}

	tc, err := timectrl.NewTimeController(clock, engine.Scheduler(), opts.Tick)
	if err != nil {
		return err
	}

	var (
		ticks   int
		tickErr error
	)
	enc := json.NewEncoder(w)
	tc.AddListener(func(now time.Time) {
		snap := engine.Tick(ctx)
		ticks++
		if tickErr != nil {
			return
		}
		if opts.JSON {
			tickErr = enc.Encode(snap)
			return
		}
		_, tickErr = fmt.Fprintf(w, "t=%-6s tick=%-4d total=%d safe=%d unsafe=%d F1=%d F2=%d F3=%d severity=%-8s emergency=%-5t action=%q responder=(%.5f,%.5f)\n",
			now.Sub(start), snap.Tick,
			snap.Metrics.Total, snap.Metrics.Safe, snap.Metrics.Unsafe,
			snap.Metrics.FloorCounts[model.F1], snap.Metrics.FloorCounts[model.F2], snap.Metrics.FloorCounts[model.F3],
			snap.Event.Severity, snap.Event.Emergency, snap.Action,
			snap.Responder.Lat, snap.Responder.Lon,
		)
	})

	// Step just past each interval boundary so every step fires exactly once.
	step := opts.Tick + time.Nanosecond
	for elapsed := time.Duration(0); elapsed < opts.Duration; elapsed += step {
		next := ticks + 1
		if opts.FireAt > 0 && next == opts.FireAt && opts.EventFile != "" {
			data, err := bridge.EncodeEvent(model.EmergencyEvent{
				Severity:  model.SeverityCritical,
				Message:   "Fire detected on level 7",
				Emergency: true,
				Action:    sim.EvacuationAction,
			})
			if err != nil {
				return err
			}
			if err := bridge.WriteEventFile(opts.EventFile, data); err != nil {
				return err
			}
		}
		if opts.Override > 0 && next == opts.Override {
			engine.SetOverride(ctx, true)
		}
		clock.Advance(step)
		tc.Step()
		if tickErr != nil {
			return tickErr
		}
	}
	return nil
}
