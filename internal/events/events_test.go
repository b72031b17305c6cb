package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satya.ledger/sl/internal/types"
)

type memSource struct {
	mu        sync.Mutex
	events    []types.Event
	published map[int64]bool
	updates   chan struct{}
}

func newMemSource(n int) *memSource {
	s := &memSource{published: map[int64]bool{}, updates: make(chan struct{}, 1)}
	for i := 1; i <= n; i++ {
		s.events = append(s.events, types.Event{Seq: int64(i), Kind: types.EventTransactionCreated, TxID: "tx"})
	}
	return s
}

func (s *memSource) PendingEvents(_ context.Context, limit int) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Event
	for _, ev := range s.events {
		if !s.published[ev.Seq] && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memSource) MarkPublished(_ context.Context, seq int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[seq] = true
	return nil
}

func (s *memSource) PendingCount(ctx context.Context) (int, error) {
	ev, _ := s.PendingEvents(ctx, 1<<30)
	return len(ev), nil
}

func (s *memSource) Updates() <-chan struct{} { return s.updates }

type recordingSink struct {
	name   string
	mu     sync.Mutex
	seen   []int64
	failAt int64
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Deliver(_ context.Context, ev types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt != 0 && ev.Seq == r.failAt {
		return errors.New("sink down")
	}
	r.seen = append(r.seen, ev.Seq)
	return nil
}

func (r *recordingSink) delivered() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.seen...)
}

func TestDispatchDeliversInOrder(t *testing.T) {
	src := newMemSource(5)
	sink := &recordingSink{name: "a"}
	d, err := NewDispatcher(src, []Sink{sink}, WithBatchSize(2))
	require.NoError(t, err)

	ctx := context.Background()
	for {
		n, err := d.DispatchOnce(ctx)
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, sink.delivered())
	left, _ := src.PendingCount(ctx)
	assert.Equal(t, 0, left)
}

func TestDispatchStopsAtFailureAndRetries(t *testing.T) {
	src := newMemSource(4)
	good := &recordingSink{name: "good"}
	flaky := &recordingSink{name: "flaky", failAt: 3}
	d, err := NewDispatcher(src, []Sink{good, flaky})
	require.NoError(t, err)

	ctx := context.Background()
	n, err := d.DispatchOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, n)

	pending, _ := src.PendingEvents(ctx, 10)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(3), pending[0].Seq, "failed event must stay pending")

	flaky.mu.Lock()
	flaky.failAt = 0
	flaky.mu.Unlock()

	n, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []int64{1, 2, 3, 4}, good.delivered(), "healthy sink must not see duplicates")
	assert.Equal(t, []int64{1, 2, 3, 4}, flaky.delivered())
}

func TestRunWakesOnUpdates(t *testing.T) {
	src := newMemSource(0)
	sink := &recordingSink{name: "a"}
	d, err := NewDispatcher(src, []Sink{sink}, WithInterval(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	src.mu.Lock()
	src.events = append(src.events, types.Event{Seq: 1, Kind: types.EventTransactionCreated, TxID: "x"})
	src.mu.Unlock()
	src.updates <- struct{}{}

	require.Eventually(t, func() bool { return len(sink.delivered()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestNewDispatcherRequiresSource(t *testing.T) {
	_, err := NewDispatcher(nil, nil)
	assert.Error(t, err)
}

func TestBrokerFanOutAndDrop(t *testing.T) {
	b := NewBroker()
	fast, cancelFast := b.Subscribe()
	slow, cancelSlow := b.Subscribe()
	defer cancelSlow()
	assert.Equal(t, 2, b.Subscribers())

	ctx := context.Background()
	for i := 1; i <= subscriberBuffer+5; i++ {
		require.NoError(t, b.Deliver(ctx, types.Event{Seq: int64(i)}))
		<-fast
	}

	assert.Len(t, slow, subscriberBuffer)
	assert.Equal(t, 5, b.Dropped())

	cancelFast()
	cancelFast()
	_, open := <-fast
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkKeysByTransaction(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSinkWithWriter(KafkaConfig{Topic: "ledger.events"}, nil, w)

	ev := types.Event{
		ID:            "3f1c2a9e-evt",
		Seq:           7,
		Kind:          types.EventTransactionApproved,
		TxID:          "tx-42",
		Voter:         "0xabc",
		Finalized:     true,
		ApprovalCount: 3,
		OccurredAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, sink.Deliver(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "tx-42", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "TransactionApproved", string(msg.Headers[0].Value))
	assert.Equal(t, "event_id", msg.Headers[1].Key)
	assert.Equal(t, "3f1c2a9e-evt", string(msg.Headers[1].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "tx-42", decoded["txId"])
	assert.Equal(t, "0xabc", decoded["voter"])
	assert.Equal(t, true, decoded["finalized"])

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkBreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	sink := newKafkaSinkWithWriter(KafkaConfig{Topic: "t", ConsecutiveFailures: 2, OpenTimeout: time.Hour}, nil, w)

	ctx := context.Background()
	ev := types.Event{Seq: 1, TxID: "a"}
	require.Error(t, sink.Deliver(ctx, ev))
	require.Error(t, sink.Deliver(ctx, ev))

	err := sink.Deliver(ctx, ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, "open", sink.State())
}

func TestNewKafkaSinkValidates(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)
	_, err = NewKafkaSink(KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)

	sink, err := NewKafkaSink(KafkaConfig{Topic: "t", Brokers: []string{"localhost:9092"}, Acks: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "kafka", sink.Name())
	assert.NoError(t, sink.Close())
}
