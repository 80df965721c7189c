package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/occupancy-monitor/model"
)

// Poll outcomes reported by the event bridge.
const (
	PollOutcomeEvent     = "event"
	PollOutcomeAbsent    = "absent"
	PollOutcomeMalformed = "malformed"
	PollOutcomeError     = "error"
	PollOutcomeTimeout   = "timeout"
)

// EngineCollector exposes occupancy engine metrics.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	OccupantsByFloor  *prometheus.GaugeVec
	OccupantsByStatus *prometheus.GaugeVec
	Ticks             prometheus.Counter
	BridgePolls       *prometheus.CounterVec
	BridgePollLatency prometheus.Histogram
	EmergencyActive   prometheus.Gauge
	OverrideActive    prometheus.Gauge
	ResponderPosition *prometheus.GaugeVec
	RefreshRunning    prometheus.Gauge
}

// NewEngineCollector registers engine metrics against the provided registerer.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	reg, gatherer := resolveRegistry(reg)

	byFloor, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "monitor_occupants",
		Help: "Current number of occupants per floor.",
	}, []string{"floor"}), "monitor_occupants")
	if err != nil {
		return nil, err
	}
	byStatus, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "monitor_occupants_by_status",
		Help: "Current number of occupants by safety status.",
	}, []string{"status"}), "monitor_occupants_by_status")
	if err != nil {
		return nil, err
	}
	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_ticks_total",
		Help: "Cumulative number of simulation ticks executed.",
	}), "monitor_ticks_total")
	if err != nil {
		return nil, err
	}
	polls, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_bridge_polls_total",
		Help: "Event bridge polls, labeled by outcome.",
	}, []string{"outcome"}), "monitor_bridge_polls_total")
	if err != nil {
		return nil, err
	}
	latency, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "monitor_bridge_poll_duration_seconds",
		Help:    "Duration of event bridge polls.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	}), "monitor_bridge_poll_duration_seconds")
	if err != nil {
		return nil, err
	}
	emergency, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_emergency_active",
		Help: "1 when the effective emergency event is active.",
	}), "monitor_emergency_active")
	if err != nil {
		return nil, err
	}
	override, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_override_active",
		Help: "1 when the operator override is forcing an emergency.",
	}), "monitor_override_active")
	if err != nil {
		return nil, err
	}
	responder, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "monitor_responder_position_degrees",
		Help: "Simulated responder position.",
	}, []string{"axis"}), "monitor_responder_position_degrees")
	if err != nil {
		return nil, err
	}
	refresh, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_refresh_running",
		Help: "1 when automatic refresh is running.",
	}), "monitor_refresh_running")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:          gatherer,
		OccupantsByFloor:  byFloor,
		OccupantsByStatus: byStatus,
		Ticks:             ticks,
		BridgePolls:       polls,
		BridgePollLatency: latency,
		EmergencyActive:   emergency,
		OverrideActive:    override,
		ResponderPosition: responder,
		RefreshRunning:    refresh,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SetOccupancy publishes an aggregate view.
func (c *EngineCollector) SetOccupancy(m model.AggregateMetrics) {
	if c == nil {
		return
	}
	if c.OccupantsByFloor != nil {
		for _, f := range model.AllFloors {
			c.OccupantsByFloor.WithLabelValues(f.String()).Set(float64(m.FloorCounts[f]))
		}
	}
	if c.OccupantsByStatus != nil {
		c.OccupantsByStatus.WithLabelValues("safe").Set(float64(m.Safe))
		c.OccupantsByStatus.WithLabelValues("unsafe").Set(float64(m.Unsafe))
	}
}

// IncTicks counts one executed tick.
func (c *EngineCollector) IncTicks() {
	if c == nil || c.Ticks == nil {
		return
	}
	c.Ticks.Inc()
}

// ObservePoll records one bridge poll.
func (c *EngineCollector) ObservePoll(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.BridgePolls != nil {
		c.BridgePolls.WithLabelValues(outcome).Inc()
	}
	if c.BridgePollLatency != nil {
		c.BridgePollLatency.Observe(d.Seconds())
	}
}

// SetEmergency publishes the effective emergency and override flags.
func (c *EngineCollector) SetEmergency(emergency, override bool) {
	if c == nil {
		return
	}
	if c.EmergencyActive != nil {
		c.EmergencyActive.Set(boolGauge(emergency))
	}
	if c.OverrideActive != nil {
		c.OverrideActive.Set(boolGauge(override))
	}
}

// SetResponder publishes the responder position.
func (c *EngineCollector) SetResponder(r model.Responder) {
	if c == nil || c.ResponderPosition == nil {
		return
	}
	c.ResponderPosition.WithLabelValues("lat").Set(r.Lat)
	c.ResponderPosition.WithLabelValues("lon").Set(r.Lon)
}

// SetRefreshRunning publishes the refresh scheduler state.
func (c *EngineCollector) SetRefreshRunning(running bool) {
	if c == nil || c.RefreshRunning == nil {
		return
	}
	c.RefreshRunning.Set(boolGauge(running))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
