package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "authority.auth"

// AuthMetrics records counters for credential verifications, session
// refreshes, and revocations. Counter errors at construction are returned;
// recording is fire-and-forget.
type AuthMetrics struct {
	verifications metric.Int64Counter
	refreshes     metric.Int64Counter
	revocations   metric.Int64Counter
}

// NewAuthMetrics creates the auth counters on the given provider.
func NewAuthMetrics(provider metric.MeterProvider) (*AuthMetrics, error) {
	meter := provider.Meter(meterName)

	verifications, err := meter.Int64Counter(
		"auth.verifications",
		metric.WithDescription("Credential verification attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create verifications counter: %w", err)
	}
	refreshes, err := meter.Int64Counter(
		"auth.refreshes",
		metric.WithDescription("Session refresh attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create refreshes counter: %w", err)
	}
	revocations, err := meter.Int64Counter(
		"auth.revocations",
		metric.WithDescription("Session revocations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create revocations counter: %w", err)
	}

	return &AuthMetrics{
		verifications: verifications,
		refreshes:     refreshes,
		revocations:   revocations,
	}, nil
}

// RecordVerification counts one verification attempt with the given outcome
// ("success", "unauthorized", "expired", "revoked", "unavailable").
func (m *AuthMetrics) RecordVerification(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRefresh counts one refresh attempt with the given outcome.
func (m *AuthMetrics) RecordRefresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRevocation counts one revocation with the given outcome.
func (m *AuthMetrics) RecordRevocation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.revocations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
