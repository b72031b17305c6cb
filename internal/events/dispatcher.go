// Package events delivers committed ledger events to external sinks. Events
// are read from the store's outbox in sequence order and marked published
// once every sink has accepted them, so delivery is at-least-once and never
// reordered.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"satya.ledger/sl/internal/types"
)

// Source is the outbox the dispatcher drains.
type Source interface {
	PendingEvents(ctx context.Context, limit int) ([]types.Event, error)
	MarkPublished(ctx context.Context, seq int64, at time.Time) error
	PendingCount(ctx context.Context) (int, error)
	Updates() <-chan struct{}
}

// Sink receives events one at a time. Deliver must be safe to call again
// with an event it already accepted.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev types.Event) error
}

// Recorder receives dispatcher counters.
type Recorder interface {
	EventDelivered(sink string, ok bool)
	OutboxPending(n int)
}

type nopRecorder struct{}

func (nopRecorder) EventDelivered(string, bool) {}
func (nopRecorder) OutboxPending(int)           {}

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
)

var errNoSource = errors.New("dispatcher requires a source")

// Dispatcher moves outbox events to sinks.
type Dispatcher struct {
	src      Source
	sinks    []Sink
	interval time.Duration
	batch    int
	log      *zap.Logger
	metrics  Recorder
	now      func() time.Time

	mu sync.Mutex
	// last delivered seq per sink, so a sink that already accepted an event
	// is not sent it again while another sink is failing
	progress map[string]int64
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithInterval sets the polling interval used when no update signal arrives.
func WithInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithBatchSize caps the number of events read per round.
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batch = n
		}
	}
}

func WithLogger(log *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

func WithMetrics(m Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewDispatcher builds a dispatcher over src delivering to sinks.
func NewDispatcher(src Source, sinks []Sink, opts ...DispatcherOption) (*Dispatcher, error) {
	if src == nil {
		return nil, errNoSource
	}
	d := &Dispatcher{
		src:      src,
		sinks:    sinks,
		interval: defaultInterval,
		batch:    defaultBatchSize,
		log:      zap.NewNop(),
		metrics:  nopRecorder{},
		now:      time.Now,
		progress: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(zap.String("component", "dispatcher"))
	return d, nil
}

// Run dispatches until ctx is cancelled. It wakes on store updates and on
// every interval tick, the latter retrying sinks that failed earlier.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Info("dispatcher started", zap.Int("sinks", len(d.sinks)), zap.Duration("interval", d.interval))
	defer d.log.Info("dispatcher stopped")

	d.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.src.Updates():
		}
		d.drain(ctx)
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := d.DispatchOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.log.Warn("dispatch round failed", zap.Error(err))
			}
			return
		}
		if n < d.batch {
			return
		}
	}
}

// DispatchOnce delivers one batch of pending events and returns how many were
// marked published. It stops at the first failure so later events never
// overtake an undelivered one.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending, err := d.src.PendingEvents(ctx, d.batch)
	if err != nil {
		return 0, fmt.Errorf("read outbox: %w", err)
	}
	defer d.reportPending(ctx)

	published := 0
	for _, ev := range pending {
		for _, sink := range d.sinks {
			if d.progress[sink.Name()] >= ev.Seq {
				continue
			}
			if err := sink.Deliver(ctx, ev); err != nil {
				d.metrics.EventDelivered(sink.Name(), false)
				return published, fmt.Errorf("deliver event %d to %s: %w", ev.Seq, sink.Name(), err)
			}
			d.metrics.EventDelivered(sink.Name(), true)
			d.progress[sink.Name()] = ev.Seq
		}
		if err := d.src.MarkPublished(ctx, ev.Seq, d.now().UTC()); err != nil {
			return published, err
		}
		published++
		d.log.Debug("event published",
			zap.Int64("seq", ev.Seq),
			zap.String("kind", string(ev.Kind)),
			zap.String("tx", ev.TxID))
	}
	return published, nil
}

func (d *Dispatcher) reportPending(ctx context.Context) {
	n, err := d.src.PendingCount(ctx)
	if err != nil {
		return
	}
	d.metrics.OutboxPending(n)
}
