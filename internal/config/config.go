// Package config loads monitor configuration from an optional YAML file
// followed by MONITOR_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/occupancy-monitor/core"
	"github.com/signalsfoundry/occupancy-monitor/internal/bridge"
	"github.com/signalsfoundry/occupancy-monitor/internal/logging"
	"github.com/signalsfoundry/occupancy-monitor/internal/observability"
	"github.com/signalsfoundry/occupancy-monitor/model"
	"github.com/signalsfoundry/occupancy-monitor/timectrl"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full monitor configuration.
type Config struct {
	Population PopulationConfig            `yaml:"population"`
	Map        MapConfig                   `yaml:"map"`
	Refresh    RefreshConfig               `yaml:"refresh"`
	Source     bridge.SourceConfig         `yaml:"source"`
	Server     ServerConfig                `yaml:"server"`
	Logging    logging.Config              `yaml:"logging"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
}

// PopulationConfig sizes the simulated session.
type PopulationConfig struct {
	Count  int           `yaml:"count"`
	Floors []model.Floor `yaml:"floors"`
	// Seed makes sessions reproducible; zero picks a time-based seed.
	Seed uint64 `yaml:"seed"`
}

// MapConfig places the building and the responder.
type MapConfig struct {
	Anchor    core.LatLon `yaml:"anchor"`
	Responder core.LatLon `yaml:"responder"`
}

// RefreshConfig drives the refresh controller.
type RefreshConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Poll        time.Duration `yaml:"poll"`
	StartPaused bool          `yaml:"start_paused"`
}

// ServerConfig holds listen addresses. Empty disables a listener.
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	StreamAddr  string `yaml:"stream_addr"`
}

// Default returns the reference building configuration.
func Default() Config {
	return Config{
		Population: PopulationConfig{
			Count:  50,
			Floors: append([]model.Floor(nil), model.AllFloors...),
		},
		Map: MapConfig{
			Anchor:    core.DefaultAnchor,
			Responder: core.LatLon{Lat: core.DefaultResponderStart.Lat, Lon: core.DefaultResponderStart.Lon},
		},
		Refresh: RefreshConfig{
			Interval: timectrl.DefaultRefreshInterval,
			Poll:     timectrl.DefaultPollInterval,
		},
		Source: bridge.DefaultSourceConfig(),
		Server: ServerConfig{
			GRPCAddr:    ":50051",
			MetricsAddr: ":9090",
			StreamAddr:  ":8080",
		},
		Logging: logging.Config{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load reads path over Default and then applies environment overrides. An
// empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return ApplyEnv(cfg)
}

// ApplyEnv overlays MONITOR_* variables onto cfg.
func ApplyEnv(cfg Config) (Config, error) {
	if v := os.Getenv("MONITOR_OCCUPANTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: MONITOR_OCCUPANTS: %v", ErrInvalid, err)
		}
		cfg.Population.Count = n
	}
	if v := os.Getenv("MONITOR_FLOORS"); v != "" {
		floors, err := ParseFloors(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: MONITOR_FLOORS: %v", ErrInvalid, err)
		}
		cfg.Population.Floors = floors
	}
	if v := os.Getenv("MONITOR_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: MONITOR_SEED: %v", ErrInvalid, err)
		}
		cfg.Population.Seed = seed
	}
	if v := os.Getenv("MONITOR_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: MONITOR_REFRESH_INTERVAL: %v", ErrInvalid, err)
		}
		cfg.Refresh.Interval = d
	}

	setString(&cfg.Source.Driver, "MONITOR_EVENT_DRIVER")
	setString(&cfg.Source.Path, "MONITOR_EVENT_PATH")
	setString(&cfg.Source.DSN, "MONITOR_EVENT_DSN")
	setString(&cfg.Source.URL, "MONITOR_NATS_URL")
	setString(&cfg.Source.Subject, "MONITOR_NATS_SUBJECT")
	setString(&cfg.Source.S3.Bucket, "MONITOR_S3_BUCKET")
	setString(&cfg.Source.S3.Key, "MONITOR_S3_KEY")
	setString(&cfg.Source.S3.Region, "MONITOR_S3_REGION")
	setString(&cfg.Source.S3.Endpoint, "MONITOR_S3_ENDPOINT")
	if v := os.Getenv("MONITOR_S3_PATH_STYLE"); v != "" {
		cfg.Source.S3.PathStyle = strings.EqualFold(v, "true")
	}

	setString(&cfg.Server.GRPCAddr, "MONITOR_GRPC_ADDR")
	setString(&cfg.Server.MetricsAddr, "MONITOR_METRICS_ADDR")
	setString(&cfg.Server.StreamAddr, "MONITOR_STREAM_ADDR")

	cfg.Logging = logging.ConfigFromEnv(cfg.Logging)
	cfg.Tracing = observability.TracingConfigFromEnv(cfg.Tracing)
	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// ParseFloors parses a comma separated floor list such as "F1,F2" or "6,7,8".
func ParseFloors(s string) ([]model.Floor, error) {
	var floors []model.Floor
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := model.ParseFloor(part)
		if err != nil {
			return nil, err
		}
		floors = append(floors, f)
	}
	return floors, nil
}

// Validate rejects configurations that must stop the process at startup.
func (c Config) Validate() error {
	var problems []string
	if c.Population.Count <= 0 {
		problems = append(problems, fmt.Sprintf("population.count must be positive, got %d", c.Population.Count))
	}
	if len(c.Population.Floors) == 0 {
		problems = append(problems, "population.floors is empty")
	}
	for _, f := range c.Population.Floors {
		if !f.Valid() {
			problems = append(problems, fmt.Sprintf("unknown floor %d", int(f)))
		}
	}
	if c.Refresh.Interval <= 0 {
		problems = append(problems, fmt.Sprintf("refresh.interval must be positive, got %s", c.Refresh.Interval))
	}
	if c.Refresh.Poll < 0 {
		problems = append(problems, "refresh.poll must not be negative")
	}
	if !bridge.ValidDriver(c.Source.Driver) {
		problems = append(problems, fmt.Sprintf("unknown source.driver %q", c.Source.Driver))
	}
	switch strings.ToLower(c.Source.Driver) {
	case bridge.DriverS3:
		if c.Source.S3.Bucket == "" {
			problems = append(problems, "source.s3.bucket required for s3 driver")
		}
	case bridge.DriverSQLite, bridge.DriverPostgres:
		if c.Source.DSN == "" {
			problems = append(problems, "source.dsn required for sql drivers")
		}
	}
	if c.Source.Timeout < 0 {
		problems = append(problems, "source.timeout must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
