package license

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments for license operations.
// A nil *Metrics is valid and records nothing, so the manager works in
// short-lived CLI invocations that skip telemetry setup.
type Metrics struct {
	ActivationAttempts  metric.Int64Counter
	ActivationSuccesses metric.Int64Counter
	ValidationChecks    metric.Int64Counter
	ValidationCacheHits metric.Int64Counter
	NetworkFallbacks    metric.Int64Counter
	GateDenials         metric.Int64Counter
}

// NewMetrics creates the license instrument set on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.ActivationAttempts, err = meter.Int64Counter("license_activation_attempts_total",
		metric.WithDescription("License activation attempts")); err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}
	if m.ActivationSuccesses, err = meter.Int64Counter("license_activation_successes_total",
		metric.WithDescription("Successful license activations")); err != nil {
		return nil, fmt.Errorf("failed to create activation successes counter: %w", err)
	}
	if m.ValidationChecks, err = meter.Int64Counter("license_validation_checks_total",
		metric.WithDescription("License validation refresh attempts")); err != nil {
		return nil, fmt.Errorf("failed to create validation checks counter: %w", err)
	}
	if m.ValidationCacheHits, err = meter.Int64Counter("license_validation_cache_hits_total",
		metric.WithDescription("Validation calls answered from the in-memory result cache")); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}
	if m.NetworkFallbacks, err = meter.Int64Counter("license_network_fallbacks_total",
		metric.WithDescription("Validations that fell back to cached state on inconclusive outcomes")); err != nil {
		return nil, fmt.Errorf("failed to create network fallbacks counter: %w", err)
	}
	if m.GateDenials, err = meter.Int64Counter("license_gate_denials_total",
		metric.WithDescription("Feature gate checks that denied an operation")); err != nil {
		return nil, fmt.Errorf("failed to create gate denials counter: %w", err)
	}

	return m, nil
}

// recordCounter adds to a counter if metrics are configured
func recordCounter(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Nil-safe recording helpers. A nil receiver is the "telemetry disabled"
// configuration and records nothing.

func (m *Metrics) recordActivationAttempt(ctx context.Context) {
	if m == nil {
		return
	}
	recordCounter(ctx, m.ActivationAttempts)
}

func (m *Metrics) recordActivationSuccess(ctx context.Context, alreadyActivated bool) {
	if m == nil {
		return
	}
	recordCounter(ctx, m.ActivationSuccesses, attribute.Bool("already_activated", alreadyActivated))
}

func (m *Metrics) recordValidationCheck(ctx context.Context) {
	if m == nil {
		return
	}
	recordCounter(ctx, m.ValidationChecks)
}

func (m *Metrics) recordValidationCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	recordCounter(ctx, m.ValidationCacheHits)
}

func (m *Metrics) recordNetworkFallback(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	recordCounter(ctx, m.NetworkFallbacks, attribute.String("reason", reason))
}

func (m *Metrics) recordGateDenial(ctx context.Context, operation, cause string) {
	if m == nil {
		return
	}
	recordCounter(ctx, m.GateDenials,
		attribute.String("operation", operation),
		attribute.String("cause", cause))
}
