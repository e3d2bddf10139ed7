package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/livewatch/internal/adapter/metrics"
	"github.com/pscheid92/livewatch/internal/domain"
	"github.com/pscheid92/livewatch/internal/platform/correlation"
)

// Dispatcher delivers alerts to a Discord webhook from a single background
// worker. Notify never blocks and never reports delivery failures.
type Dispatcher struct {
	clock   clockwork.Clock
	client  *http.Client
	timeout time.Duration
	breaker circuitbreaker.CircuitBreaker[any]
	metrics *metrics.NotifyMetrics

	mu       sync.RWMutex
	endpoint string

	queue    chan delivery
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ domain.Notifier = (*Dispatcher)(nil)

type delivery struct {
	ctx      context.Context
	kind     string
	endpoint string
	content  string
}

type payload struct {
	Content string `json:"content"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.NotifyMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithBreakerMetrics exports breaker transitions under component "discord".
func WithBreakerMetrics(m *metrics.BreakerMetrics) Option {
	return func(d *Dispatcher) { d.breaker = newBreaker(m) }
}

// NewDispatcher starts the delivery worker. timeout bounds each POST; queueSize
// bounds how many alerts may wait before new ones are dropped.
func NewDispatcher(clock clockwork.Clock, timeout time.Duration, queueSize int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clock:   clock,
		client:  &http.Client{},
		timeout: timeout,
		queue:   make(chan delivery, queueSize),
		done:    make(chan struct{}),
	}
	d.breaker = newBreaker(nil)
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Go(d.run)
	return d
}

// After three consecutive failures alerts are skipped for a minute rather than
// each one waiting out the timeout.
func newBreaker(m *metrics.BreakerMetrics) circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(3).
		WithDelay(time.Minute).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "discord",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if m != nil {
				m.StateChanges.WithLabelValues("discord", e.NewState.String()).Inc()
				m.State.WithLabelValues("discord").Set(stateValue(e.NewState))
			}
		}).
		Build()
}

func stateValue(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	default:
		return 2
	}
}

// SetEndpoint swaps the webhook URL. An empty URL disables delivery.
func (d *Dispatcher) SetEndpoint(endpoint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoint = endpoint
}

func (d *Dispatcher) Endpoint() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.endpoint
}

// Notify queues an alert for n. It is a no-op without an endpoint.
func (d *Dispatcher) Notify(ctx context.Context, n domain.Notification) {
	d.enqueue(ctx, string(n.Kind), FormatMessage(n))
}

// SendTest queues a sample went-live alert for a fictitious channel.
func (d *Dispatcher) SendTest(ctx context.Context) {
	d.enqueue(ctx, "test", FormatMessage(testNotification(d.clock.Now())))
}

func (d *Dispatcher) enqueue(ctx context.Context, kind, content string) {
	endpoint := d.Endpoint()
	if endpoint == "" {
		slog.DebugContext(ctx, "No webhook configured, skipping notification", "kind", kind)
		return
	}

	select {
	case <-d.done:
		return
	default:
	}

	select {
	case d.queue <- delivery{ctx: correlation.Detach(ctx), kind: kind, endpoint: endpoint, content: content}:
	default:
		slog.WarnContext(ctx, "Notification queue full, dropping alert", "kind", kind)
		if d.metrics != nil {
			d.metrics.Dropped.Inc()
		}
	}
}

func (d *Dispatcher) run() {
	for {
		select {
		case job := <-d.queue:
			d.deliver(job)
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.queue:
			d.deliver(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(job delivery) {
	if !d.breaker.TryAcquirePermit() {
		slog.WarnContext(job.ctx, "Webhook circuit open, skipping notification", "kind", job.kind)
		d.record(job.kind, "skipped")
		return
	}

	start := d.clock.Now()
	err := d.post(job)
	if d.metrics != nil {
		d.metrics.Duration.Observe(d.clock.Since(start).Seconds())
	}

	if err != nil {
		d.breaker.RecordError(err)
		slog.WarnContext(job.ctx, "Notification delivery failed", "kind", job.kind, "error", err)
		d.record(job.kind, "failed")
		return
	}
	d.breaker.RecordSuccess()
	slog.InfoContext(job.ctx, "Notification delivered", "kind", job.kind)
	d.record(job.kind, "sent")
}

func (d *Dispatcher) post(job delivery) error {
	body, err := json.Marshal(payload{Content: job.content})
	if err != nil {
		return fmt.Errorf("%w: encode payload: %w", domain.ErrDeliveryFailed, err)
	}

	ctx, cancel := context.WithTimeout(job.ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", domain.ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: timed out after %s", domain.ErrDeliveryFailed, d.timeout)
		}
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: webhook returned status %d", domain.ErrDeliveryFailed, resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) record(kind, result string) {
	if d.metrics != nil {
		d.metrics.Sent.WithLabelValues(kind, result).Inc()
	}
}

// Stop delivers whatever is already queued and stops the worker, or gives up
// when ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.done) })

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
