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

// Metrics exposes the invoicing engine instruments.
type Metrics struct {
	invoicesCreated   metric.Int64Counter
	statusTransitions metric.Int64Counter
	paymentsApplied   metric.Int64Counter
	paymentsReversed  metric.Int64Counter
	snapshotsMissing  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
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

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}
	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New creates the domain instruments on the given provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "invoicing"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.invoicesCreated, err = meter.Int64Counter("invoicing_invoices_created_total"); err != nil {
		return nil, err
	}
	if m.statusTransitions, err = meter.Int64Counter("invoicing_invoice_status_transitions_total"); err != nil {
		return nil, err
	}
	if m.paymentsApplied, err = meter.Int64Counter("invoicing_payments_applied_total"); err != nil {
		return nil, err
	}
	if m.paymentsReversed, err = meter.Int64Counter("invoicing_payments_reversed_total"); err != nil {
		return nil, err
	}
	if m.snapshotsMissing, err = meter.Int64Counter("invoicing_currency_snapshot_missing_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("invoicing_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) RecordInvoiceCreated(ctx context.Context, currency string) {
	if m == nil {
		return
	}
	m.invoicesCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("currency", strings.ToUpper(currency)),
	)...))
}

func (m *Metrics) RecordStatusTransition(ctx context.Context, from, to, trigger string) {
	if m == nil {
		return
	}
	m.statusTransitions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("trigger", trigger),
	)...))
}

func (m *Metrics) RecordPaymentApplied(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.paymentsApplied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("method", method),
	)...))
}

func (m *Metrics) RecordPaymentReversed(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.paymentsReversed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("method", method),
	)...))
}

// RecordSnapshotMissing counts invoices persisted without a base-currency snapshot.
func (m *Metrics) RecordSnapshotMissing(ctx context.Context, currency, reason string) {
	if m == nil {
		return
	}
	m.snapshotsMissing.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("currency", strings.ToUpper(currency)),
		attribute.String("reason", reason),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", route),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
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

// Org ids and invoice ids are deliberately absent: they are unbounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"currency": {},
	"from":     {},
	"to":       {},
	"trigger":  {},
	"method":   {},
	"endpoint": {},
	"reason":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
