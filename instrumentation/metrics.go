package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server
type Metrics struct {
	// Grant/exchange flow metrics
	CodesIssued      metric.Int64Counter
	TokensIssued     metric.Int64Counter
	TokensRefreshed  metric.Int64Counter
	GrantsDenied     metric.Int64Counter
	DuplicateTokens  metric.Int64Counter
	ClientRegistered metric.Int64Counter

	// Storage metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageCodesCount         metric.Int64ObservableGauge
	StorageTokensCount        metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
	StorageClientsCount       metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	serverMeter := inst.Meter("server")
	storageMeter := inst.Meter("storage")

	var err error

	m.CodesIssued, err = serverMeter.Int64Counter(
		"authcore.codes.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes.issued counter: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"authcore.tokens.issued",
		metric.WithDescription("Number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.TokensRefreshed, err = serverMeter.Int64Counter(
		"authcore.tokens.refreshed",
		metric.WithDescription("Number of refresh token rotations"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.refreshed counter: %w", err)
	}

	m.GrantsDenied, err = serverMeter.Int64Counter(
		"authcore.grants.denied",
		metric.WithDescription("Number of grant/exchange requests folded into the denial outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grants.denied counter: %w", err)
	}

	m.DuplicateTokens, err = serverMeter.Int64Counter(
		"authcore.tokens.duplicate_rejected",
		metric.WithDescription("Number of issuances rejected by the one-token-per-relationship invariant"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.duplicate_rejected counter: %w", err)
	}

	m.ClientRegistered, err = serverMeter.Int64Counter(
		"authcore.clients.registered",
		metric.WithDescription("Number of clients registered"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clients.registered counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"authcore.storage.operations.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"authcore.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"authcore.storage.codes.count",
		metric.WithDescription("Number of authorization codes currently stored"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	m.StorageTokensCount, err = storageMeter.Int64ObservableGauge(
		"authcore.storage.tokens.count",
		metric.WithDescription("Number of access tokens currently stored"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.tokens.count gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = storageMeter.Int64ObservableGauge(
		"authcore.storage.refresh_tokens.count",
		metric.WithDescription("Number of refresh tokens currently stored"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens.count gauge: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"authcore.storage.clients.count",
		metric.WithDescription("Number of clients currently registered"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	return m, nil
}

// RecordCodeIssued records an authorization code issuance
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenIssued records an access token issuance
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID, grantType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("grant_type", grantType),
	))
}

// RecordTokenRefreshed records a refresh token rotation
func (m *Metrics) RecordTokenRefreshed(ctx context.Context, clientID string) {
	m.TokensRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordGrantDenied records a folded protocol denial
func (m *Metrics) RecordGrantDenied(ctx context.Context, grantType string) {
	m.GrantsDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
	))
}

// RecordDuplicateToken records a one-token-per-relationship rejection
func (m *Metrics) RecordDuplicateToken(ctx context.Context, clientID string) {
	m.DuplicateTokens.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordClientRegistered records a client registration
func (m *Metrics) RecordClientRegistered(ctx context.Context) {
	m.ClientRegistered.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation with count and duration
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
