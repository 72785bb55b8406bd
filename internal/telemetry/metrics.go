package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/tushar-growexxer/EmailDashboard-sub000"

// Outcomes of unauthorized-response recovery.
const (
	RecoverySkipped = "skipped"
	RecoveryRetried = "retried"
	RecoveryCleared = "cleared"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	LoginsTotal             metric.Int64Counter
	LogoutsTotal            metric.Int64Counter
	SessionWarningsTotal    metric.Int64Counter
	SessionExpiriesTotal    metric.Int64Counter
	ProfileRefreshesTotal   metric.Int64Counter
	UnauthorizedRecoveries  metric.Int64Counter
	SessionDurationAtExpiry metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.LoginsTotal, _ = meter.Int64Counter(
		"emaildash.session.logins.total",
		metric.WithDescription("Total number of login attempts by result"),
		metric.WithUnit("{login}"),
	)

	m.LogoutsTotal, _ = meter.Int64Counter(
		"emaildash.session.logouts.total",
		metric.WithDescription("Total number of explicit logouts"),
		metric.WithUnit("{logout}"),
	)

	m.SessionWarningsTotal, _ = meter.Int64Counter(
		"emaildash.session.warnings.total",
		metric.WithDescription("Total number of idle warnings surfaced"),
		metric.WithUnit("{warning}"),
	)

	m.SessionExpiriesTotal, _ = meter.Int64Counter(
		"emaildash.session.expiries.total",
		metric.WithDescription("Total number of local idle expiries"),
		metric.WithUnit("{expiry}"),
	)

	m.ProfileRefreshesTotal, _ = meter.Int64Counter(
		"emaildash.session.profile_refreshes.total",
		metric.WithDescription("Total number of profile refresh calls by result"),
		metric.WithUnit("{refresh}"),
	)

	m.UnauthorizedRecoveries, _ = meter.Int64Counter(
		"emaildash.session.unauthorized.total",
		metric.WithDescription("Total number of 401 responses by recovery outcome"),
		metric.WithUnit("{response}"),
	)

	m.SessionDurationAtExpiry, _ = meter.Float64Histogram(
		"emaildash.session.duration_at_expiry",
		metric.WithDescription("Session length when idle expiry fired"),
		metric.WithUnit("s"),
	)

	return m
}

// RecordResult increments counter with a result attribute.
func RecordResult(ctx context.Context, counter metric.Int64Counter, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRecovery increments the unauthorized counter for outcome.
func RecordRecovery(ctx context.Context, outcome string) {
	GetMetrics().UnauthorizedRecoveries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
