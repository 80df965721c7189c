// Package bridge ingests emergency events published by an external detector.
//
// A Bridge turns raw bytes from a Fetcher into a model.EmergencyEvent. Any
// failure along the way (source missing, slow, or publishing garbage) is
// reported as "no data" to the caller and never propagates as an error.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/occupancy-monitor/internal/logging"
	"github.com/signalsfoundry/occupancy-monitor/internal/observability"
	"github.com/signalsfoundry/occupancy-monitor/model"
)

// DefaultPollTimeout bounds a single fetch.
const DefaultPollTimeout = 500 * time.Millisecond

// maxEventBytes caps how much of a published record is read.
const maxEventBytes = 64 << 10

// ErrSourceUnavailable reports that the source currently has nothing to
// offer (missing file, missing object, no rows, no message yet).
var ErrSourceUnavailable = errors.New("event source unavailable")

var (
	errFetchTimeout  = errors.New("event fetch timed out")
	errFetchInFlight = errors.New("previous event fetch still running")
)

// MalformedEventError reports bytes that do not match the event record shape.
type MalformedEventError struct {
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event: %s: %v", e.Reason, e.Err)
	}
	return "malformed event: " + e.Reason
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// EventSource yields the latest externally published event, if any.
type EventSource interface {
	Poll(ctx context.Context) (model.EmergencyEvent, bool)
}

// Fetcher retrieves the raw bytes of the latest published record.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]byte, error) { return f(ctx) }

// PollRecorder observes poll outcomes. *observability.EngineCollector
// satisfies it.
type PollRecorder interface {
	ObservePoll(outcome string, d time.Duration)
}

// eventRecord mirrors the published JSON object. Pointers distinguish
// missing keys from zero values.
type eventRecord struct {
	Severity  *string `json:"severity"`
	Message   *string `json:"message"`
	Emergency *bool   `json:"emergency"`
	Action    *string `json:"action"`
}

// DecodeEvent parses one published record.
func DecodeEvent(data []byte) (model.EmergencyEvent, error) {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.EmergencyEvent{}, &MalformedEventError{Reason: "invalid json", Err: err}
	}
	if rec.Severity == nil {
		return model.EmergencyEvent{}, &MalformedEventError{Reason: "missing severity"}
	}
	if rec.Emergency == nil {
		return model.EmergencyEvent{}, &MalformedEventError{Reason: "missing emergency"}
	}
	sev, err := model.ParseSeverity(*rec.Severity)
	if err != nil {
		return model.EmergencyEvent{}, &MalformedEventError{Reason: "invalid severity", Err: err}
	}
	ev := model.EmergencyEvent{Severity: sev, Emergency: *rec.Emergency}
	if rec.Message != nil {
		ev.Message = *rec.Message
	}
	if rec.Action != nil {
		ev.Action = *rec.Action
	}
	return ev, nil
}

// EncodeEvent renders an event in the published record shape.
func EncodeEvent(ev model.EmergencyEvent) ([]byte, error) {
	sev := ev.Severity.String()
	rec := eventRecord{Severity: &sev, Message: &ev.Message, Emergency: &ev.Emergency}
	if ev.Action != "" {
		rec.Action = &ev.Action
	}
	return json.Marshal(rec)
}

// Bridge polls a Fetcher and decodes what it returns.
type Bridge struct {
	fetcher  Fetcher
	timeout  time.Duration
	log      logging.Logger
	recorder PollRecorder
	inflight atomic.Bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout overrides DefaultPollTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the logger used for poll diagnostics.
func WithLogger(log logging.Logger) Option {
	return func(b *Bridge) {
		if log != nil {
			b.log = log
		}
	}
}

// WithPollRecorder attaches a recorder for poll outcomes.
func WithPollRecorder(r PollRecorder) Option {
	return func(b *Bridge) {
		b.recorder = r
	}
}

// New returns a Bridge reading from f.
func New(f Fetcher, opts ...Option) *Bridge {
	b := &Bridge{
		fetcher: f,
		timeout: DefaultPollTimeout,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Poll returns the latest event and true, or false when the source has no
// usable data.
func (b *Bridge) Poll(ctx context.Context) (model.EmergencyEvent, bool) {
	if b == nil || b.fetcher == nil {
		return model.EmergencyEvent{}, false
	}
	start := time.Now()
	data, err := b.fetch(ctx)
	if err != nil {
		if errors.Is(err, ErrSourceUnavailable) {
			b.log.Debug(ctx, "event source has no data", logging.Err(err))
			b.observe(observability.PollOutcomeAbsent, start)
			return model.EmergencyEvent{}, false
		}
		var malformed *MalformedEventError
		if errors.As(err, &malformed) {
			b.log.Warn(ctx, "event source returned malformed record", logging.Err(err))
			b.observe(observability.PollOutcomeMalformed, start)
			return model.EmergencyEvent{}, false
		}
		if errors.Is(err, errFetchTimeout) || errors.Is(err, errFetchInFlight) {
			b.log.Warn(ctx, "event source did not answer in time", logging.Err(err))
			b.observe(observability.PollOutcomeTimeout, start)
			return model.EmergencyEvent{}, false
		}
		b.log.Warn(ctx, "event source fetch failed", logging.Err(err))
		b.observe(observability.PollOutcomeError, start)
		return model.EmergencyEvent{}, false
	}

	ev, err := DecodeEvent(data)
	if err != nil {
		b.log.Warn(ctx, "event source returned malformed record", logging.Err(err))
		b.observe(observability.PollOutcomeMalformed, start)
		return model.EmergencyEvent{}, false
	}
	b.observe(observability.PollOutcomeEvent, start)
	return ev, true
}

// Close releases the underlying fetcher when it holds resources.
func (b *Bridge) Close() error {
	if b == nil {
		return nil
	}
	if c, ok := b.fetcher.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// fetch runs the fetcher on its own goroutine and gives up at the timeout,
// whether or not the fetcher honours ctx. A fetch still stuck from an earlier
// poll blocks new ones until it returns.
func (b *Bridge) fetch(ctx context.Context) ([]byte, error) {
	if !b.inflight.CompareAndSwap(false, true) {
		return nil, errFetchInFlight
	}
	fetchCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := b.fetcher.Fetch(fetchCtx)
		// Clear before delivering so the next poll never sees a finished fetch.
		b.inflight.Store(false)
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-fetchCtx.Done():
		select {
		case r := <-done:
			return r.data, r.err
		default:
		}
		return nil, fmt.Errorf("%w after %s: %v", errFetchTimeout, b.timeout, fetchCtx.Err())
	}
}

func (b *Bridge) observe(outcome string, start time.Time) {
	if b.recorder == nil {
		return
	}
	b.recorder.ObservePoll(outcome, time.Since(start))
}

// readCapped reads at most maxEventBytes from r.
func readCapped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxEventBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEventBytes {
		return nil, &MalformedEventError{Reason: fmt.Sprintf("record exceeds %d bytes", maxEventBytes)}
	}
	return data, nil
}
