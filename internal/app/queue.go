package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/livewatch/internal/adapter/metrics"
	"github.com/pscheid92/livewatch/internal/domain"
	"github.com/pscheid92/livewatch/internal/platform/correlation"
)

const applyTimeout = 30 * time.Second

// EventApplier is satisfied by Tracker.
type EventApplier interface {
	Apply(ctx context.Context, ev domain.ChannelEvent) (*domain.Snapshot, error)
}

// EventQueue is a bounded FIFO drained by a single worker, so events are
// applied strictly in arrival order.
type EventQueue struct {
	applier EventApplier
	metrics *metrics.TrackerMetrics

	events   chan queuedEvent
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type queuedEvent struct {
	ctx context.Context
	ev  domain.ChannelEvent
}

// NewEventQueue starts the worker. m may be nil.
func NewEventQueue(applier EventApplier, size int, m *metrics.TrackerMetrics) *EventQueue {
	q := &EventQueue{
		applier: applier,
		metrics: m,
		events:  make(chan queuedEvent, size),
		done:    make(chan struct{}),
	}
	q.wg.Go(q.run)
	return q
}

// Enqueue hands ev to the worker without waiting. It returns false when the
// queue is full or stopped.
func (q *EventQueue) Enqueue(ctx context.Context, ev domain.ChannelEvent) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.events <- queuedEvent{ctx: correlation.Detach(ctx), ev: ev}:
		q.observeDepth()
		return true
	default:
		if q.metrics != nil {
			q.metrics.EventsDropped.Inc()
		}
		return false
	}
}

func (q *EventQueue) depth() int {
	return len(q.events)
}

func (q *EventQueue) run() {
	for {
		select {
		case item := <-q.events:
			q.apply(item)
		case <-q.done:
			for {
				select {
				case item := <-q.events:
					q.apply(item)
				default:
					return
				}
			}
		}
	}
}

func (q *EventQueue) apply(item queuedEvent) {
	q.observeDepth()

	ctx, cancel := context.WithTimeout(item.ctx, applyTimeout)
	defer cancel()

	if _, err := q.applier.Apply(ctx, item.ev); err != nil {
		slog.ErrorContext(ctx, "Failed to apply channel event", "kind", item.ev.Kind, "channel_id", item.ev.ChannelID, "error", err)
	}
}

func (q *EventQueue) observeDepth() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(q.depth()))
	}
}

// Stop applies what is already queued and stops the worker, or gives up when ctx is done.
func (q *EventQueue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.done) })

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
