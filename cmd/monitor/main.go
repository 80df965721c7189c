package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/signalsfoundry/occupancy-monitor/internal/api"
	"github.com/signalsfoundry/occupancy-monitor/internal/bridge"
	"github.com/signalsfoundry/occupancy-monitor/internal/config"
	"github.com/signalsfoundry/occupancy-monitor/internal/logging"
	"github.com/signalsfoundry/occupancy-monitor/internal/observability"
	sim "github.com/signalsfoundry/occupancy-monitor/internal/sim/state"
	"github.com/signalsfoundry/occupancy-monitor/internal/stream"
	"github.com/signalsfoundry/occupancy-monitor/model"
	"github.com/signalsfoundry/occupancy-monitor/timectrl"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the monitor gRPC server listens on")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics")
	streamAddr := flag.String("stream-addr", "", "HTTP address for the websocket snapshot stream")
	eventDriver := flag.String("event-driver", "", "Event source driver (file|s3|sqlite|postgres|nats|none)")
	eventPath := flag.String("event-path", "", "Event file path for the file driver")
	interval := flag.Duration("interval", 0, "Refresh interval")
	seed := flag.Uint64("seed", 0, "Random seed for a reproducible session")
	paused := flag.Bool("paused", false, "Start with automatic refresh paused")
	flag.Parse()

	boot := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Error(ctx, "failed to load configuration", logging.Err(err))
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "grpc-addr":
			cfg.Server.GRPCAddr = *grpcAddr
		case "metrics-addr":
			cfg.Server.MetricsAddr = *metricsAddr
		case "stream-addr":
			cfg.Server.StreamAddr = *streamAddr
		case "event-driver":
			cfg.Source.Driver = *eventDriver
		case "event-path":
			cfg.Source.Path = *eventPath
		case "interval":
			cfg.Refresh.Interval = *interval
		case "seed":
			cfg.Population.Seed = *seed
		case "paused":
			cfg.Refresh.StartPaused = *paused
		}
	})
	if err := cfg.Validate(); err != nil {
		boot.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(1)
	}

	log := logging.New(cfg.Logging)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(runCtx, cfg, log, lis, prometheus.NewRegistry()); err != nil {
		log.Error(ctx, "monitor exited with error", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the engine, refresh controller and servers, and blocks until ctx
// is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener, reg *prometheus.Registry) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	apiCollector, err := observability.NewAPICollector(reg)
	if err != nil {
		return fmt.Errorf("api metrics: %w", err)
	}
	engineCollector, err := observability.NewEngineCollector(reg)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}

	source, err := bridge.Open(ctx, cfg.Source,
		bridge.WithLogger(log.With(logging.String("component", "bridge"))),
		bridge.WithPollRecorder(engineCollector),
	)
	if err != nil {
		return fmt.Errorf("open event source: %w", err)
	}
	defer source.Close()

	mode := timectrl.Running
	if cfg.Refresh.StartPaused {
		mode = timectrl.Paused
	}
	sched := timectrl.NewScheduler(mode)

	opts := []sim.EngineOption{
		sim.WithPopulation(cfg.Population.Count, cfg.Population.Floors),
		sim.WithAnchor(cfg.Map.Anchor),
		sim.WithResponderStart(model.Responder{Lat: cfg.Map.Responder.Lat, Lon: cfg.Map.Responder.Lon}),
		sim.WithEventSource(source),
		sim.WithScheduler(sched),
		sim.WithLogger(log.With(logging.String("component", "engine"))),
		sim.WithMetricsRecorder(engineCollector),
	}
	if cfg.Population.Seed != 0 {
		opts = append(opts, sim.WithSeed(cfg.Population.Seed))
	}
	engine := sim.NewEngine(opts...)
	if err := engine.Initialize(ctx); err != nil {
		return err
	}

	tc, err := timectrl.NewTimeController(timectrl.RealClock{}, sched, cfg.Refresh.Interval)
	if err != nil {
		return err
	}
	if cfg.Refresh.Poll > 0 {
		tc.Poll = cfg.Refresh.Poll
	}

	hub := stream.NewHub(log.With(logging.String("component", "stream")), func() any { return engine.Snapshot() })
	tc.AddListener(func(time.Time) {
		hub.Publish(ctx, engine.Tick(ctx))
	})

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			api.RequestIDUnaryServerInterceptor(log),
			api.TracingUnaryServerInterceptor(),
			apiCollector.UnaryServerInterceptor(),
		),
	)
	api.RegisterMonitorServer(server, api.NewMonitorService(engine, log, api.WithRefresher(tc)))

	metricsSrv := serveHTTP(ctx, cfg.Server.MetricsAddr, metricsMux(reg), "metrics", log)
	streamSrv := serveHTTP(ctx, cfg.Server.StreamAddr, streamMux(hub, engine), "stream", log)

	go hub.Run(ctx)
	controllerDone := tc.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(lis)
	}()
	log.Info(ctx, "monitor started",
		logging.String("session_id", engine.SessionID()),
		logging.String("grpc_addr", lis.Addr().String()),
		logging.String("event_driver", cfg.Source.Driver),
		logging.String("refresh", sched.Mode().String()),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("grpc server: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down monitor")
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{metricsSrv, streamSrv} {
		if srv != nil {
			_ = srv.Shutdown(shutdownCtx)
		}
	}
	if ctx.Err() != nil {
		<-controllerDone
	}
	return runErr
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.HandlerFor(reg))
	return mux
}

func streamMux(hub *stream.Hub, engine *sim.Engine) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(engine.Snapshot())
	})
	return mux
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, name string, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(ctx, name+" server exited", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving "+name, logging.String("addr", addr))
	return srv
}
