package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments for decisions. The methods are
// safe on a nil receiver.
type OTelMetrics struct {
	decisions metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/datawave")

	m := &OTelMetrics{}
	var err error

	m.decisions, err = meter.Int64Counter(
		"authz.decisions",
		metric.WithDescription("Authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.decisions counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"authz.evaluation.duration",
		metric.WithDescription("Authorization check latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.evaluation.duration histogram: %w", err)
	}

	return m, nil
}

// RecordDecision records one decision
func (m *OTelMetrics) RecordDecision(ctx context.Context, effect, reason string, cached bool, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("effect", effect),
		attribute.String("reason", reason),
		attribute.String("cached", strconv.FormatBool(cached)),
	)
	m.decisions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("effect", effect)))
}
