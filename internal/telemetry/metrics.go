package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the workflow instruments
type Metrics struct {
	workflows        metric.Int64Counter
	workflowDuration metric.Float64Histogram
	stepDuration     metric.Float64Histogram
	uiClients        metric.Int64UpDownCounter
}

// NewMetrics registers the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	workflows, err := meter.Int64Counter("ditado.workflows",
		metric.WithDescription("Finished workflows by kind and outcome"))
	if err != nil {
		return nil, fmt.Errorf("create workflows counter: %w", err)
	}
	workflowDuration, err := meter.Float64Histogram("ditado.workflow.duration",
		metric.WithDescription("Workflow wall time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create workflow duration histogram: %w", err)
	}
	stepDuration, err := meter.Float64Histogram("ditado.workflow.step.duration",
		metric.WithDescription("Workflow step wall time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create step duration histogram: %w", err)
	}
	uiClients, err := meter.Int64UpDownCounter("ditado.ui.clients",
		metric.WithDescription("Connected UI sockets"))
	if err != nil {
		return nil, fmt.Errorf("create ui clients counter: %w", err)
	}

	return &Metrics{
		workflows:        workflows,
		workflowDuration: workflowDuration,
		stepDuration:     stepDuration,
		uiClients:        uiClients,
	}, nil
}

// NoopMetrics returns instruments that record nothing
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return m
}

// RecordWorkflow counts a finished workflow
func (m *Metrics) RecordWorkflow(ctx context.Context, kind, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.workflows.Add(ctx, 1, attrs)
	m.workflowDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordStep records one step execution
func (m *Metrics) RecordStep(ctx context.Context, workflow, step string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("step", step),
		attribute.String("status", status),
	))
}

// UIClientConnected tracks UI socket connections; delta is +1 or -1
func (m *Metrics) UIClientConnected(ctx context.Context, delta int64) {
	m.uiClients.Add(ctx, delta)
}
