package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Source drivers accepted by Open.
const (
	DriverFile     = "file"
	DriverS3       = "s3"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNATS     = "nats"
	DriverNone     = "none"
)

// Drivers lists every accepted driver name.
var Drivers = []string{DriverFile, DriverS3, DriverSQLite, DriverPostgres, DriverNATS, DriverNone}

// SourceConfig selects and configures the event source.
type SourceConfig struct {
	Driver  string        `yaml:"driver"`
	Timeout time.Duration `yaml:"timeout"`

	Path    string   `yaml:"path"` // file
	S3      S3Config `yaml:"s3"`
	DSN     string   `yaml:"dsn"`     // sqlite, postgres
	URL     string   `yaml:"url"`     // nats
	Subject string   `yaml:"subject"` // nats
}

// DefaultSourceConfig reads DefaultEventFile.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Driver:  DriverFile,
		Timeout: DefaultPollTimeout,
		Path:    DefaultEventFile,
	}
}

// ValidDriver reports whether name is an accepted driver.
func ValidDriver(name string) bool {
	for _, d := range Drivers {
		if strings.EqualFold(name, d) {
			return true
		}
	}
	return false
}

// NewFetcher constructs the fetcher named by cfg.Driver.
func NewFetcher(ctx context.Context, cfg SourceConfig) (Fetcher, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverFile, "":
		return NewFileFetcher(cfg.Path), nil
	case DriverS3:
		return NewS3Fetcher(ctx, cfg.S3)
	case DriverSQLite:
		return OpenSQLFetcher(ctx, driverSQLite, cfg.DSN)
	case DriverPostgres:
		return OpenSQLFetcher(ctx, driverPgx, cfg.DSN)
	case DriverNATS:
		return NewNATSFetcher(cfg.URL, cfg.Subject)
	case DriverNone:
		return FetcherFunc(func(context.Context) ([]byte, error) {
			return nil, ErrSourceUnavailable
		}), nil
	default:
		return nil, fmt.Errorf("unknown event source driver %q", cfg.Driver)
	}
}

// Open builds a Bridge over the fetcher selected by cfg.
func Open(ctx context.Context, cfg SourceConfig, opts ...Option) (*Bridge, error) {
	f, err := NewFetcher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithTimeout(cfg.Timeout)}, opts...)
	return New(f, opts...), nil
}
