package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Outcome values for the auth.login and auth.refresh counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuthMetrics counts auth-core outcomes. A nil *AuthMetrics is valid and records nothing.
type AuthMetrics struct {
	logins       metric.Int64Counter
	refreshes    metric.Int64Counter
	refreshReuse metric.Int64Counter
	logouts      metric.Int64Counter
}

// NewAuthMetrics registers the auth counters on meter. A nil meter uses a no-op meter.
func NewAuthMetrics(meter metric.Meter) (*AuthMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("vidstream.auth")
	}
	logins, err := meter.Int64Counter("auth.login", metric.WithDescription("Login attempts by outcome"))
	if err != nil {
		return nil, err
	}
	refreshes, err := meter.Int64Counter("auth.refresh", metric.WithDescription("Refresh attempts by outcome"))
	if err != nil {
		return nil, err
	}
	reuse, err := meter.Int64Counter("auth.refresh_reuse", metric.WithDescription("Refresh tokens presented after rotation"))
	if err != nil {
		return nil, err
	}
	logouts, err := meter.Int64Counter("auth.logout", metric.WithDescription("Logouts"))
	if err != nil {
		return nil, err
	}
	return &AuthMetrics{logins: logins, refreshes: refreshes, refreshReuse: reuse, logouts: logouts}, nil
}

func (m *AuthMetrics) Login(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) Refresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RefreshReuse counts a presented refresh token that no longer matches the stored one.
func (m *AuthMetrics) RefreshReuse(ctx context.Context) {
	if m == nil {
		return
	}
	m.refreshReuse.Add(ctx, 1)
}

func (m *AuthMetrics) Logout(ctx context.Context) {
	if m == nil {
		return
	}
	m.logouts.Add(ctx, 1)
}
