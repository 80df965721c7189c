package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/signalsfoundry/occupancy-monitor/internal/logging"
	sim "github.com/signalsfoundry/occupancy-monitor/internal/sim/state"
	"github.com/signalsfoundry/occupancy-monitor/kb"
	"github.com/signalsfoundry/occupancy-monitor/model"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const maxDensityBins = 500

// Refresher fires a manual refresh through the refresh controller.
// *timectrl.TimeController satisfies it.
type Refresher interface {
	Trigger()
}

// MonitorService exposes an Engine over gRPC. Reads are pure views; the only
// mutations are override, refresh mode, safety status and manual ticks.
type MonitorService struct {
	engine    *sim.Engine
	refresher Refresher
	log       logging.Logger
}

// ServiceOption customises a MonitorService.
type ServiceOption func(*MonitorService)

// WithRefresher routes Tick through the refresh controller so its last-tick
// bookkeeping stays in step with manual refreshes.
func WithRefresher(r Refresher) ServiceOption {
	return func(s *MonitorService) {
		s.refresher = r
	}
}

// NewMonitorService constructs a MonitorService bound to engine.
func NewMonitorService(engine *sim.Engine, log logging.Logger, opts ...ServiceOption) *MonitorService {
	if log == nil {
		log = logging.Noop()
	}
	s := &MonitorService{engine: engine, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ MonitorServer = (*MonitorService)(nil)

func (s *MonitorService) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.engine.Snapshot())
}

func (s *MonitorService) GetMetrics(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.engine.Metrics())
}

func (s *MonitorService) ListPositions(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	var floor model.Floor
	if v := in.GetValue(); v != "" {
		f, err := model.ParseFloor(v)
		if err != nil {
			return nil, ToStatusError(fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		}
		floor = f
	}
	return toStruct(struct {
		Positions []model.ProjectedPosition `json:"positions"`
	}{Positions: s.engine.Positions(floor)})
}

func (s *MonitorService) GetEvent(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ev := s.engine.Event()
	return toStruct(struct {
		model.EmergencyEvent
		Alert    model.Alert `json:"alert"`
		Override bool        `json:"override"`
	}{EmergencyEvent: ev, Alert: model.AlertFor(ev.Severity), Override: s.engine.Override()})
}

func (s *MonitorService) GetResponder(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.engine.Responder())
}

func (s *MonitorService) GetDensity(ctx context.Context, in *wrapperspb.Int32Value) (*structpb.Struct, error) {
	bins := int(in.GetValue())
	if bins == 0 {
		bins = kb.DefaultDensityBins
	}
	if bins < 0 || bins > maxDensityBins {
		return nil, ToStatusError(fmt.Errorf("%w: bins must be in [1,%d], got %d", ErrInvalidRequest, maxDensityBins, bins))
	}
	return toStruct(s.engine.Density(bins))
}

func (s *MonitorService) SetOverride(ctx context.Context, in *wrapperspb.BoolValue) (*structpb.Struct, error) {
	ctx, span := StartChildSpan(ctx, "Monitor.SetOverride", attribute.Bool("override.active", in.GetValue()))
	defer span.End()

	s.engine.SetOverride(ctx, in.GetValue())
	logging.FromContext(ctx, s.log).Info(ctx, "override set via api", logging.Bool("active", in.GetValue()))
	return s.GetEvent(ctx, nil)
}

func (s *MonitorService) SetRefresh(ctx context.Context, in *wrapperspb.BoolValue) (*wrapperspb.StringValue, error) {
	if in.GetValue() {
		s.engine.StartRefresh(ctx)
	} else {
		s.engine.PauseRefresh(ctx)
	}
	return wrapperspb.String(s.engine.Scheduler().Mode().String()), nil
}

func (s *MonitorService) MarkSafe(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	fields := in.GetFields()
	idVal, ok := fields["id"]
	if !ok {
		return nil, ToStatusError(fmt.Errorf("%w: id is required", ErrInvalidRequest))
	}
	id := idVal.GetNumberValue()
	if _, isNum := idVal.GetKind().(*structpb.Value_NumberValue); !isNum || id != math.Trunc(id) || id < 0 {
		return nil, ToStatusError(fmt.Errorf("%w: id must be a non-negative integer", ErrInvalidRequest))
	}
	safe := true
	if v, ok := fields["safe"]; ok {
		b, isBool := v.GetKind().(*structpb.Value_BoolValue)
		if !isBool {
			return nil, ToStatusError(fmt.Errorf("%w: safe must be a boolean", ErrInvalidRequest))
		}
		safe = b.BoolValue
	}

	ctx, span := StartChildSpan(ctx, "Monitor.MarkSafe", attribute.Int("occupant.id", int(id)))
	defer span.End()

	if err := s.engine.SetSafe(ctx, int(id), safe); err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *MonitorService) Tick(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.refresher != nil {
		s.refresher.Trigger()
		return toStruct(s.engine.Snapshot())
	}
	return toStruct(s.engine.Tick(ctx))
}

// toStruct converts a JSON-tagged value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, ToStatusError(fmt.Errorf("encode response: %w", err))
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, ToStatusError(fmt.Errorf("encode response: %w", err))
	}
	return out, nil
}

// fromStruct decodes a protobuf Struct into a JSON-tagged value.
func fromStruct(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
