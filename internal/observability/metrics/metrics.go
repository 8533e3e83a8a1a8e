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
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const meterName = "github.com/nyumbanilabs/nyumbani"

// Config configures metric export.
type Config struct {
	Enabled          bool
	ServiceName      string
	Environment      string
	ExporterEndpoint string
	ExporterProtocol string
}

// NewProvider builds a MeterProvider and installs it globally.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build metric resource: %w", err)
	}
	opts = append(opts, sdkmetric.WithResource(res))

	if cfg.Enabled && strings.TrimSpace(cfg.ExporterEndpoint) != "" {
		exporter, err := newExporter(cfg)
		if err != nil {
			return nil, fmt.Errorf("build metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(30*time.Second),
		)))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				log.Warn("meter provider shutdown", zap.Error(err))
			}
			return nil
		},
	})

	return provider, nil
}

func newExporter(cfg Config) (sdkmetric.Exporter, error) {
	endpoint := strings.TrimSpace(cfg.ExporterEndpoint)
	switch strings.ToLower(strings.TrimSpace(cfg.ExporterProtocol)) {
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	}
}

// Metrics bundles the billing and reconciliation counters.
type Metrics struct {
	invoicesGenerated  metric.Int64Counter
	invoicesSkipped    metric.Int64Counter
	billingRunDuration metric.Float64Histogram
	billingFailures    metric.Int64Counter
	paymentsIngested   metric.Int64Counter
	paymentsDuplicate  metric.Int64Counter
	matchResults       metric.Int64Counter
	allocations        metric.Int64Counter
	statusTransitions  metric.Int64Counter
}

// New registers the domain instruments on the global meter provider.
func New(provider *sdkmetric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)

	invoicesGenerated, err := meter.Int64Counter("billing.invoices.generated",
		metric.WithDescription("Service charge invoices generated"))
	if err != nil {
		return nil, err
	}
	invoicesSkipped, err := meter.Int64Counter("billing.invoices.skipped",
		metric.WithDescription("Landlords skipped during invoice generation, by reason"))
	if err != nil {
		return nil, err
	}
	billingRunDuration, err := meter.Float64Histogram("billing.run.duration",
		metric.WithDescription("Monthly billing run duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	billingFailures, err := meter.Int64Counter("billing.run.failures",
		metric.WithDescription("Per landlord failures during a billing run"))
	if err != nil {
		return nil, err
	}
	paymentsIngested, err := meter.Int64Counter("payments.ingested",
		metric.WithDescription("Inbound payments accepted, by source"))
	if err != nil {
		return nil, err
	}
	paymentsDuplicate, err := meter.Int64Counter("payments.duplicates",
		metric.WithDescription("Webhook deliveries discarded as duplicates, by source"))
	if err != nil {
		return nil, err
	}
	matchResults, err := meter.Int64Counter("reconciliation.matches",
		metric.WithDescription("Reconciliation outcomes, by match quality"))
	if err != nil {
		return nil, err
	}
	allocations, err := meter.Int64Counter("payments.allocations",
		metric.WithDescription("Manual payment allocations applied"))
	if err != nil {
		return nil, err
	}
	statusTransitions, err := meter.Int64Counter("payments.mpesa.status_transitions",
		metric.WithDescription("M-Pesa transaction status transitions, by target state"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesGenerated:  invoicesGenerated,
		invoicesSkipped:    invoicesSkipped,
		billingRunDuration: billingRunDuration,
		billingFailures:    billingFailures,
		paymentsIngested:   paymentsIngested,
		paymentsDuplicate:  paymentsDuplicate,
		matchResults:       matchResults,
		allocations:        allocations,
		statusTransitions:  statusTransitions,
	}, nil
}

func (m *Metrics) RecordInvoiceGenerated(ctx context.Context, billingModel string) {
	if m == nil {
		return
	}
	m.invoicesGenerated.Add(ctx, 1, metric.WithAttributes(attribute.String("billing_model", billingModel)))
}

func (m *Metrics) RecordInvoiceSkipped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.invoicesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordBillingRun(ctx context.Context, duration time.Duration, failed int) {
	if m == nil {
		return
	}
	m.billingRunDuration.Record(ctx, duration.Seconds())
	if failed > 0 {
		m.billingFailures.Add(ctx, int64(failed))
	}
}

func (m *Metrics) RecordPaymentIngested(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.paymentsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) RecordPaymentDuplicate(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.paymentsDuplicate.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) RecordMatchResult(ctx context.Context, quality string) {
	if m == nil {
		return
	}
	m.matchResults.Add(ctx, 1, metric.WithAttributes(attribute.String("quality", quality)))
}

func (m *Metrics) RecordAllocation(ctx context.Context) {
	if m == nil {
		return
	}
	m.allocations.Add(ctx, 1)
}

func (m *Metrics) RecordStatusTransition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.statusTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
