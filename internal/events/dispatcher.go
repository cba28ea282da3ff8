// Package events decouples detection from the slow consumers of its results.
//
// The frame loop publishes events without blocking; a single worker delivers
// them to every sink in registration order.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smilecam/internal/metrics"
	"smilecam/internal/types"
)

const (
	drainTimeout = 5 * time.Second
	dropLogEvery = 50
)

type Sink interface {
	Name() string
	Handle(ctx context.Context, ev types.Event) error
}

type funcSink struct {
	name string
	fn   func(context.Context, types.Event) error
}

func (s funcSink) Name() string { return s.name }

func (s funcSink) Handle(ctx context.Context, ev types.Event) error { return s.fn(ctx, ev) }

// Func adapts fn to a Sink.
func Func(name string, fn func(context.Context, types.Event) error) Sink {
	return funcSink{name: name, fn: fn}
}

type Dispatcher struct {
	queue   chan types.Event
	sinks   []Sink
	log     zerolog.Logger
	metrics *metrics.Counters

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(queueSize int, log zerolog.Logger, m *metrics.Counters, sinks ...Sink) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if m == nil {
		m = &metrics.Counters{}
	}
	return &Dispatcher{
		queue:   make(chan types.Event, queueSize),
		sinks:   sinks,
		log:     log,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Register appends sink to the fan-out list. Sinks registered while events
// are in flight only see later events.
func (d *Dispatcher) Register(sink Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, sink)
	d.mu.Unlock()
}

// Publish enqueues ev. It never blocks: when the queue is full or the
// dispatcher is closed the event is dropped and false is returned.
func (d *Dispatcher) Publish(ev types.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		d.metrics.EventsPublished.Add(1)
		return true
	default:
		dropped := d.metrics.EventsDropped.Add(1)
		if dropped == 1 || dropped%dropLogEvery == 0 {
			d.log.Warn().Uint64("dropped_total", dropped).Str("kind", string(ev.Kind)).Msg("event queue full, dropping event")
		}
		return false
	}
}

// Run delivers events until Close is called or ctx ends. Events still queued
// at that point are delivered before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	// Sinks get their own deadlines; shutdown must not abort an event mid-delivery.
	deliverCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			d.Close()
			d.drain()
			return nil
		case ev, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.deliver(deliverCtx, ev)
		}
	}
}

// Close stops accepting events. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for ev := range d.queue {
		d.deliver(ctx, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev types.Event) {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()
	for _, sink := range sinks {
		if err := sink.Handle(ctx, ev); err != nil {
			d.metrics.SinkErrors.Add(1)
			d.log.Warn().Err(err).Str("sink", sink.Name()).Str("event", ev.ID).Msg("event delivery failed")
		}
	}
}
