package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	eventsReceived  metric.Int64Counter
	eventsMalformed metric.Int64Counter
	upserts         metric.Int64Counter
	crossTypeStates metric.Int64Counter
	deferred        metric.Int64Counter
	reconcileFailed metric.Int64Counter
	searchDuration  metric.Float64Histogram
	searchTimeouts  metric.Int64Counter
	redacted        metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "txledger"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.eventsReceived, err = meter.Int64Counter("txledger_events_received_total"); err != nil {
		return nil, err
	}
	if m.eventsMalformed, err = meter.Int64Counter("txledger_events_malformed_total"); err != nil {
		return nil, err
	}
	if m.upserts, err = meter.Int64Counter("txledger_projection_upserts_total"); err != nil {
		return nil, err
	}
	if m.crossTypeStates, err = meter.Int64Counter("txledger_cross_type_state_total"); err != nil {
		return nil, err
	}
	if m.deferred, err = meter.Int64Counter("txledger_reconcile_deferred_total"); err != nil {
		return nil, err
	}
	if m.reconcileFailed, err = meter.Int64Counter("txledger_reconcile_failures_total"); err != nil {
		return nil, err
	}
	if m.searchDuration, err = meter.Float64Histogram("txledger_search_duration_ms", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.searchTimeouts, err = meter.Int64Counter("txledger_search_timeouts_total"); err != nil {
		return nil, err
	}
	if m.redacted, err = meter.Int64Counter("txledger_redacted_transactions_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) RecordEventReceived(ctx context.Context, resourceType, eventType string) {
	if m == nil {
		return
	}
	m.eventsReceived.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("resource_type", resourceType),
		attribute.String("event_type", eventType),
	)...))
}

func (m *Metrics) RecordMalformedEvent(ctx context.Context) {
	if m == nil {
		return
	}
	m.eventsMalformed.Add(ctx, 1)
}

// RecordUpsert counts projection writes by outcome (inserted, updated, skipped).
func (m *Metrics) RecordUpsert(ctx context.Context, transactionType, outcome, reason string) {
	if m == nil {
		return
	}
	m.upserts.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("transaction_type", transactionType),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	)...))
}

// RecordCrossTypeState counts salient events applied to a resource type they do not belong to.
func (m *Metrics) RecordCrossTypeState(ctx context.Context, transactionType, eventType string) {
	if m == nil {
		return
	}
	m.crossTypeStates.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("transaction_type", transactionType),
		attribute.String("event_type", eventType),
	)...))
}

func (m *Metrics) RecordDeferred(ctx context.Context, resourceType string) {
	if m == nil {
		return
	}
	m.deferred.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("resource_type", resourceType),
	)...))
}

func (m *Metrics) RecordReconcileFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.reconcileFailed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("reason", reason),
	)...))
}

func (m *Metrics) ObserveSearch(ctx context.Context, mode string, elapsed time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("mode", mode))...)
	m.searchDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	if timedOut {
		m.searchTimeouts.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordRedacted(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.redacted.Add(ctx, int64(count))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// resource and event types are closed sets; ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"resource_type":    {},
	"transaction_type": {},
	"event_type":       {},
	"outcome":          {},
	"reason":           {},
	"mode":             {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
