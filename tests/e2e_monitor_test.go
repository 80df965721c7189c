package tests

import (
	"context"
	"database/sql"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/occupancy-monitor/core"
	"github.com/signalsfoundry/occupancy-monitor/internal/api"
	"github.com/signalsfoundry/occupancy-monitor/internal/bridge"
	"github.com/signalsfoundry/occupancy-monitor/internal/logging"
	"github.com/signalsfoundry/occupancy-monitor/internal/observability"
	sim "github.com/signalsfoundry/occupancy-monitor/internal/sim/state"
	"github.com/signalsfoundry/occupancy-monitor/model"
	"github.com/signalsfoundry/occupancy-monitor/timectrl"
)

type monitorTestEnv struct {
	ctx     context.Context
	db      *sql.DB
	engine  *sim.Engine
	clock   *timectrl.ManualClock
	metrics *observability.EngineCollector
	client  *api.Client
}

func newMonitorTestEnv(t *testing.T) *monitorTestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := bridge.EnsureEventsTable(ctx, db, "sqlite"); err != nil {
		t.Fatalf("EnsureEventsTable: %v", err)
	}

	reg := prometheus.NewRegistry()
	engineMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	apiMetrics, err := observability.NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	source := bridge.New(bridge.NewSQLFetcher(db),
		bridge.WithTimeout(2*time.Second),
		bridge.WithPollRecorder(engineMetrics),
	)
	t.Cleanup(func() { _ = source.Close() })

	clock := timectrl.NewManualClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	engine := sim.NewEngine(
		sim.WithSeed(2024),
		sim.WithClock(clock),
		sim.WithEventSource(source),
		sim.WithLogger(logging.Noop()),
		sim.WithMetricsRecorder(engineMetrics),
	)
	if err := engine.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	engine.PauseRefresh(ctx)

	tc, err := timectrl.NewTimeController(clock, engine.Scheduler(), timectrl.DefaultRefreshInterval)
	if err != nil {
		t.Fatalf("NewTimeController: %v", err)
	}
	tc.AddListener(func(time.Time) { engine.Tick(ctx) })

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		api.RequestIDUnaryServerInterceptor(logging.Noop()),
		api.TracingUnaryServerInterceptor(),
		apiMetrics.UnaryServerInterceptor(),
	))
	api.RegisterMonitorServer(server, api.NewMonitorService(engine, logging.Noop(), api.WithRefresher(tc)))
	go func() { _ = server.Serve(lis) }()

	conn, err := grpc.DialContext(ctx, lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(api.RequestIDUnaryClientInterceptor()),
	)
	if err != nil {
		t.Fatalf("grpc.DialContext: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		server.GracefulStop()
	})

	return &monitorTestEnv{
		ctx:     ctx,
		db:      db,
		engine:  engine,
		clock:   clock,
		metrics: engineMetrics,
		client:  api.NewClient(conn),
	}
}

func (env *monitorTestEnv) publish(t *testing.T, payload string) {
	t.Helper()
	if err := bridge.PublishSQL(env.ctx, env.db, "sqlite", []byte(payload)); err != nil {
		t.Fatalf("PublishSQL: %v", err)
	}
}

func (env *monitorTestEnv) tick(t *testing.T) sim.Snapshot {
	t.Helper()
	env.clock.Advance(time.Second)
	snap, err := env.client.Tick(env.ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return snap
}

func TestMonitorPipelineEndToEnd(t *testing.T) {
	env := newMonitorTestEnv(t)

	// Empty table: nothing to retain yet.
	snap := env.tick(t)
	if snap.Tick != 1 || snap.Event.Severity != model.SeverityNormal || snap.Action != sim.IdleAction {
		t.Fatalf("initial tick = %+v", snap)
	}
	if snap.Metrics.Total != sim.DefaultOccupantCount {
		t.Fatalf("total = %d", snap.Metrics.Total)
	}
	baseline := snap.Metrics

	env.publish(t, `{"severity":"HIGH","message":"Smoke on level 2","emergency":true,"action":"Move to stairwell A"}`)
	snap = env.tick(t)
	if snap.Event.Severity != model.SeverityHigh || !snap.Event.Emergency {
		t.Fatalf("event = %+v", snap.Event)
	}
	if snap.Action != "Move to stairwell A" || snap.Alert.Message != "High Risk Situation" {
		t.Fatalf("action = %q alert = %+v", snap.Action, snap.Alert)
	}
	if !snap.Evacuation.Active || snap.Responder == core.DefaultResponderStart {
		t.Fatalf("evacuation = %+v responder = %+v", snap.Evacuation, snap.Responder)
	}
	if snap.Metrics.Safe != baseline.Safe || snap.Metrics.Unsafe != baseline.Unsafe {
		t.Fatalf("safety changed on tick: %+v -> %+v", baseline, snap.Metrics)
	}

	// A malformed record keeps the last good event.
	env.publish(t, `{"message":"missing fields"}`)
	snap = env.tick(t)
	if snap.Event.Severity != model.SeverityHigh || snap.Event.Message != "Smoke on level 2" {
		t.Fatalf("event after malformed record = %+v", snap.Event)
	}
	if got := testutil.ToFloat64(env.metrics.BridgePolls.WithLabelValues(observability.PollOutcomeMalformed)); got != 1 {
		t.Fatalf("malformed polls = %v, want 1", got)
	}

	// The override takes precedence without touching the stored event.
	if _, err := env.client.SetOverride(env.ctx, true); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	snap = env.tick(t)
	if snap.Event.Severity != model.SeverityCritical || snap.Action != sim.EvacuationAction || !snap.Override {
		t.Fatalf("override tick = %+v action = %q", snap.Event, snap.Action)
	}
	if stored := env.engine.StoredEvent(); stored.Severity != model.SeverityHigh {
		t.Fatalf("stored event = %+v", stored)
	}
	if _, err := env.client.SetOverride(env.ctx, false); err != nil {
		t.Fatalf("SetOverride off: %v", err)
	}

	// All clear.
	env.publish(t, `{"severity":"NONE","message":"","emergency":false}`)
	snap = env.tick(t)
	if snap.Event.Emergency || snap.Action != sim.IdleAction || snap.Evacuation.Active {
		t.Fatalf("all clear tick = %+v action = %q", snap.Event, snap.Action)
	}
	frozen := snap.Responder
	snap = env.tick(t)
	if snap.Responder != frozen {
		t.Fatalf("responder moved without emergency: %+v -> %+v", frozen, snap.Responder)
	}
	if snap.Tick != 6 {
		t.Fatalf("tick = %d, want 6", snap.Tick)
	}
}

func TestMonitorMarkSafeAndValidation(t *testing.T) {
	env := newMonitorTestEnv(t)

	if err := env.client.MarkSafe(env.ctx, 0, false); err != nil {
		t.Fatalf("MarkSafe unsafe: %v", err)
	}
	before, err := env.client.Metrics(env.ctx)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	target := 0

	if err := env.client.MarkSafe(env.ctx, target, true); err != nil {
		t.Fatalf("MarkSafe: %v", err)
	}
	after, err := env.client.Metrics(env.ctx)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if after.Safe != before.Safe+1 || after.Unsafe != before.Unsafe-1 || after.Total != before.Total {
		t.Fatalf("metrics %+v -> %+v", before, after)
	}

	err = env.client.MarkSafe(env.ctx, 10_000, true)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("MarkSafe unknown id code = %v, want NotFound", status.Code(err))
	}
	if _, err := env.client.Positions(env.ctx, "F9"); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Positions F9 code = %v, want InvalidArgument", status.Code(err))
	}
}
