// Package notify delivers job lifecycle events to a configured webhook as
// CloudEvents. Delivery is async over a bounded queue: a slow or failing
// destination never affects the job or the observers.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"imagehub/internal/job"
	"imagehub/internal/observability"
	"imagehub/pkg/backoff"
	"imagehub/pkg/circuitbreaker"
	"imagehub/pkg/cloudevent"
)

// Event types for job lifecycle webhooks.
const (
	EventJobStarted   = "imagehub.job.started"
	EventJobCompleted = "imagehub.job.completed"
	EventJobStopped   = "imagehub.job.stopped"
)

const (
	defaultBufferSize  = 64
	defaultHTTPTimeout = 10 * time.Second
	defaultMaxRetries  = 3
	deliveryTimeout    = 30 * time.Second
)

// Config holds notifier settings. URL is required; a server without a
// webhook simply runs without a notifier.
type Config struct {
	URL         string
	SigningKey  string        // HMAC key, empty = unsigned
	Source      string        // CloudEvent source, default "imagehub"
	BufferSize  int           // default 64
	HTTPTimeout time.Duration // default 10s
}

// Stats holds delivery counters.
type Stats struct {
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Notifier queues lifecycle events and delivers them with retry behind a
// circuit breaker. A single delivery goroutine preserves event order.
type Notifier struct {
	cfg     Config
	queue   chan *cloudevent.CloudEvent
	sender  *cloudevent.Sender
	breaker *circuitbreaker.Breaker
	metrics *observability.Metrics
	logger  *slog.Logger

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New creates and starts a notifier. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics) *Notifier {
	if cfg.Source == "" {
		cfg.Source = "imagehub"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}

	n := &Notifier{
		cfg:      cfg,
		queue:    make(chan *cloudevent.CloudEvent, cfg.BufferSize),
		sender:   cloudevent.NewSender(cfg.HTTPTimeout),
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig()),
		metrics:  metrics,
		logger:   slog.With("component", "notify"),
		shutdown: make(chan struct{}),
	}

	n.wg.Add(1)
	go n.worker()

	n.logger.Info("Webhook notifier started", "destination", cfg.URL)
	return n
}

// JobStarted implements the controller's Notifier contract.
func (n *Notifier) JobStarted(jobID string, workers, total int) {
	n.enqueue(n.build(EventJobStarted, jobID, map[string]any{
		"jobId":   jobID,
		"workers": workers,
		"total":   total,
	}))
}

// JobFinished reports a terminal job state with its metrics snapshot.
func (n *Notifier) JobFinished(jobID string, stopped bool, snapshot job.MetricsSnapshot) {
	eventType := EventJobCompleted
	if stopped {
		eventType = EventJobStopped
	}
	n.enqueue(n.build(eventType, jobID, map[string]any{
		"jobId":      jobID,
		"speedup":    snapshot.Speedup,
		"efficiency": snapshot.EfficiencyPercent,
		"totalTime":  snapshot.TotalTime.Seconds(),
		"successful": snapshot.Successful,
		"total":      snapshot.Total,
	}))
}

// Stats returns current delivery counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		Delivered: n.delivered.Load(),
		Failed:    n.failed.Load(),
		Dropped:   n.dropped.Load(),
	}
}

// Close drains queued events and stops the delivery worker. The context
// deadline bounds the drain.
func (n *Notifier) Close(ctx context.Context) error {
	if n.closed.Swap(true) {
		return nil
	}

	close(n.shutdown)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

func (n *Notifier) build(eventType, jobID string, data map[string]any) *cloudevent.CloudEvent {
	id := jobID + "-" + eventType
	return cloudevent.New(eventType, n.cfg.Source, jobID, id, data)
}

// enqueue queues an event without blocking; a full buffer drops it.
func (n *Notifier) enqueue(event *cloudevent.CloudEvent) {
	if n.closed.Load() {
		return
	}
	select {
	case n.queue <- event:
	default:
		n.dropped.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyDropped(context.Background())
		}
		n.logger.Warn("Notification dropped, buffer full", "type", event.Type)
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			// Drain what is already queued, then exit.
			for {
				select {
				case event := <-n.queue:
					n.deliver(event)
				default:
					return
				}
			}
		case event := <-n.queue:
			n.deliver(event)
		}
	}
}

func (n *Notifier) deliver(event *cloudevent.CloudEvent) {
	if !n.breaker.Allow() {
		n.dropped.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyDropped(context.Background())
		}
		n.logger.Debug("Notification dropped, circuit open", "type", event.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	start := time.Now()
	if err := n.sendWithRetry(ctx, event); err != nil {
		n.breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyFailed(ctx)
		}
		n.logger.Warn("Notification delivery failed", "type", event.Type, "error", err)
		return
	}

	n.breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDelivered(ctx, time.Since(start).Seconds())
	}
}

func (n *Notifier) sendWithRetry(ctx context.Context, event *cloudevent.CloudEvent) error {
	opts := cloudevent.SendOptions{SigningKey: n.cfg.SigningKey}

	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Exponential(attempt, nil)):
			}
		}

		lastErr = n.sender.Send(ctx, n.cfg.URL, event, opts)
		if lastErr == nil {
			return nil
		}
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
