package api

import (
	"context"
	"fmt"

	sim "github.com/signalsfoundry/occupancy-monitor/internal/sim/state"
	"github.com/signalsfoundry/occupancy-monitor/kb"
	"github.com/signalsfoundry/occupancy-monitor/model"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a typed wrapper over the monitor service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+MonitorServiceName+"/"+method, in, out, opts...)
}

func (c *Client) invokeStruct(ctx context.Context, method string, in any, v any) error {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, method, in, out); err != nil {
		return err
	}
	if err := fromStruct(out, v); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// Snapshot fetches the full read view.
func (c *Client) Snapshot(ctx context.Context) (sim.Snapshot, error) {
	var snap sim.Snapshot
	err := c.invokeStruct(ctx, "GetSnapshot", &emptypb.Empty{}, &snap)
	return snap, err
}

// Metrics fetches aggregate occupancy.
func (c *Client) Metrics(ctx context.Context) (model.AggregateMetrics, error) {
	var m model.AggregateMetrics
	err := c.invokeStruct(ctx, "GetMetrics", &emptypb.Empty{}, &m)
	return m, err
}

// Positions lists projected positions, optionally for one floor ("" for all).
func (c *Client) Positions(ctx context.Context, floor string) ([]model.ProjectedPosition, error) {
	var out struct {
		Positions []model.ProjectedPosition `json:"positions"`
	}
	err := c.invokeStruct(ctx, "ListPositions", wrapperspb.String(floor), &out)
	return out.Positions, err
}

// Event fetches the effective emergency event.
func (c *Client) Event(ctx context.Context) (model.EmergencyEvent, error) {
	var ev model.EmergencyEvent
	err := c.invokeStruct(ctx, "GetEvent", &emptypb.Empty{}, &ev)
	return ev, err
}

// Responder fetches the responder position.
func (c *Client) Responder(ctx context.Context) (model.Responder, error) {
	var r model.Responder
	err := c.invokeStruct(ctx, "GetResponder", &emptypb.Empty{}, &r)
	return r, err
}

// Density fetches the occupancy heatmap; bins 0 uses the server default.
func (c *Client) Density(ctx context.Context, bins int32) (kb.DensityGrid, error) {
	var g kb.DensityGrid
	err := c.invokeStruct(ctx, "GetDensity", wrapperspb.Int32(bins), &g)
	return g, err
}

// SetOverride toggles the operator override and returns the effective event.
func (c *Client) SetOverride(ctx context.Context, active bool) (model.EmergencyEvent, error) {
	var ev model.EmergencyEvent
	err := c.invokeStruct(ctx, "SetOverride", wrapperspb.Bool(active), &ev)
	return ev, err
}

// SetRefresh starts or pauses automatic refresh and returns the new mode.
func (c *Client) SetRefresh(ctx context.Context, running bool) (string, error) {
	out := &wrapperspb.StringValue{}
	if err := c.invoke(ctx, "SetRefresh", wrapperspb.Bool(running), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// MarkSafe sets an occupant's safety status.
func (c *Client) MarkSafe(ctx context.Context, id int, safe bool) error {
	in, err := structpb.NewStruct(map[string]any{"id": id, "safe": safe})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "MarkSafe", in, &emptypb.Empty{})
}

// Tick runs a manual refresh and returns the resulting snapshot.
func (c *Client) Tick(ctx context.Context) (sim.Snapshot, error) {
	var snap sim.Snapshot
	err := c.invokeStruct(ctx, "Tick", &emptypb.Empty{}, &snap)
	return snap, err
}
