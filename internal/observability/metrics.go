// Package observability provides application metrics via OpenTelemetry
// with a Prometheus exporter.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: how long requests, jobs and items take
// - Traffic: request/job/broadcast throughput
// - Errors: failed items and deliveries
// - Saturation: active jobs, connected observers
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job metrics
	JobDuration metric.Float64Histogram
	JobsTotal   metric.Int64Counter
	JobsActive  metric.Int64UpDownCounter

	// Per-image metrics
	ImagesProcessed metric.Int64Counter
	ImageDuration   metric.Float64Histogram

	// Hub metrics
	ObserversConnected metric.Int64UpDownCounter
	ObserversDropped   metric.Int64Counter
	BroadcastsTotal    metric.Int64Counter

	// Notifier metrics
	NotifyDuration  metric.Float64Histogram
	NotifyDelivered metric.Int64Counter
	NotifyFailed    metric.Int64Counter
	NotifyDropped   metric.Int64Counter

	// Telemetry sampler metrics
	TelemetrySamples metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("imagehub")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Batch job wall-clock duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTotal, err = meter.Int64Counter(
		"jobs_total",
		metric.WithDescription("Total number of jobs started"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of currently running jobs (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ImagesProcessed, err = meter.Int64Counter(
		"images_processed_total",
		metric.WithDescription("Total images processed, by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ImageDuration, err = meter.Float64Histogram(
		"image_duration_seconds",
		metric.WithDescription("Per-image filter execution time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ObserversConnected, err = meter.Int64UpDownCounter(
		"observers_connected",
		metric.WithDescription("Number of currently connected observers (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ObserversDropped, err = meter.Int64Counter(
		"observers_dropped_total",
		metric.WithDescription("Total observers dropped for being slow or dead"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BroadcastsTotal, err = meter.Int64Counter(
		"broadcasts_total",
		metric.WithDescription("Total events fanned out to observers"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDuration, err = meter.Float64Histogram(
		"notify_duration_seconds",
		metric.WithDescription("Webhook delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDelivered, err = meter.Int64Counter(
		"notify_delivered_total",
		metric.WithDescription("Total webhook notifications delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyFailed, err = meter.Int64Counter(
		"notify_failed_total",
		metric.WithDescription("Total webhook notifications failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDropped, err = meter.Int64Counter(
		"notify_dropped_total",
		metric.WithDescription("Total webhook notifications dropped (buffer full or circuit open)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TelemetrySamples, err = meter.Int64Counter(
		"telemetry_samples_total",
		metric.WithDescription("Total telemetry samples attempted, by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobStarted records a job entering the Running state.
func (m *Metrics) RecordJobStarted(ctx context.Context, workers int) {
	m.JobsTotal.Add(ctx, 1, metric.WithAttributes(workersAttr(workers)))
	m.JobsActive.Add(ctx, 1)
}

// RecordJobCompleted records a job reaching a terminal state.
func (m *Metrics) RecordJobCompleted(ctx context.Context, stopped bool, durationSeconds float64) {
	m.JobDuration.Record(ctx, durationSeconds, metric.WithAttributes(stoppedAttr(stopped)))
	m.JobsActive.Add(ctx, -1)
}

// RecordImageProcessed records one finished item, successful or not.
func (m *Metrics) RecordImageProcessed(ctx context.Context, success bool, durationSeconds float64) {
	m.ImagesProcessed.Add(ctx, 1, metric.WithAttributes(successAttr(success)))
	if success {
		m.ImageDuration.Record(ctx, durationSeconds)
	}
}

// RecordObserverConnected records a new observer registration.
func (m *Metrics) RecordObserverConnected(ctx context.Context) {
	m.ObserversConnected.Add(ctx, 1)
}

// RecordObserverDisconnected records an observer leaving the registry.
func (m *Metrics) RecordObserverDisconnected(ctx context.Context) {
	m.ObserversConnected.Add(ctx, -1)
}

// RecordObserverDropped records an observer dropped for being slow.
func (m *Metrics) RecordObserverDropped(ctx context.Context) {
	m.ObserversDropped.Add(ctx, 1)
}

// RecordBroadcast records one event fanned out to `observers` connections.
func (m *Metrics) RecordBroadcast(ctx context.Context, observers int) {
	m.BroadcastsTotal.Add(ctx, int64(observers))
}

// RecordNotifyDelivered records a successful webhook delivery.
func (m *Metrics) RecordNotifyDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifyDelivered.Add(ctx, 1)
	m.NotifyDuration.Record(ctx, durationSeconds)
}

// RecordNotifyFailed records a webhook delivery failed after retries.
func (m *Metrics) RecordNotifyFailed(ctx context.Context) {
	m.NotifyFailed.Add(ctx, 1)
}

// RecordNotifyDropped records a dropped webhook notification.
func (m *Metrics) RecordNotifyDropped(ctx context.Context) {
	m.NotifyDropped.Add(ctx, 1)
}

// RecordTelemetrySample records one sampling attempt.
func (m *Metrics) RecordTelemetrySample(ctx context.Context, success bool) {
	m.TelemetrySamples.Add(ctx, 1, metric.WithAttributes(successAttr(success)))
}
