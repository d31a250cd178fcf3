// Package metrics exposes the coordination counters in Prometheus format
// through an OpenTelemetry meter provider.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records coordination events. A nil or disabled *Metrics drops
// every record.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	deliveriesSent    metric.Int64Counter
	deliveriesDropped metric.Int64Counter
	enqueueFailures   metric.Int64Counter
	rateLimited       metric.Int64Counter
	decisions         metric.Int64Counter
	remindersCleared  metric.Int64Counter
	statsPublishes    metric.Int64Counter
}

// New builds the meter provider. With enabled=false it returns a Metrics
// that records nothing and serves 404 on its handler.
func New(enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("coord-service")

	m := &Metrics{provider: provider, registry: registry}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.deliveriesSent, "coord_notify_deliveries_sent_total", "Direct messages delivered from the shared queue"},
		{&m.deliveriesDropped, "coord_notify_deliveries_dropped_total", "Queued direct messages dropped without delivery"},
		{&m.enqueueFailures, "coord_notify_enqueue_failures_total", "Notifications that could not be enqueued"},
		{&m.rateLimited, "coord_ratelimit_denied_total", "Invocations denied by the rate limiter"},
		{&m.decisions, "coord_authz_decisions_total", "Authorization pipeline decisions"},
		{&m.remindersCleared, "coord_reminders_cleared_total", "Vote reminder flags cleared by the sweep"},
		{&m.statsPublishes, "coord_stats_publishes_total", "Cluster snapshot publishes"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	return m, nil
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) DeliverySent(ctx context.Context) {
	if m == nil || m.deliveriesSent == nil {
		return
	}
	m.deliveriesSent.Add(ctx, 1)
}

// DeliveryDropped counts a queued message that was popped but not delivered.
func (m *Metrics) DeliveryDropped(ctx context.Context, reason string) {
	if m == nil || m.deliveriesDropped == nil {
		return
	}
	m.deliveriesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) EnqueueFailed(ctx context.Context, source string) {
	if m == nil || m.enqueueFailures == nil {
		return
	}
	m.enqueueFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) RateLimited(ctx context.Context, scope string) {
	if m == nil || m.rateLimited == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

func (m *Metrics) AuthzDecision(ctx context.Context, outcome, kind string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RemindersCleared(ctx context.Context, n int) {
	if m == nil || m.remindersCleared == nil || n == 0 {
		return
	}
	m.remindersCleared.Add(ctx, int64(n))
}

func (m *Metrics) StatsPublished(ctx context.Context, err error) {
	if m == nil || m.statsPublishes == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.statsPublishes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
