package processor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
	"github.com/Fatonxhema/cdc-relay/internal/domain/routing"
	"github.com/Fatonxhema/cdc-relay/internal/idempotency"
	"github.com/Fatonxhema/cdc-relay/internal/infrastructure/memory"
	routes "github.com/Fatonxhema/cdc-relay/internal/routing"
	"github.com/Fatonxhema/cdc-relay/internal/sequencer"
)

type harness struct {
	store  *memory.Store
	events *memory.EventRepository
	routes *memory.RoutingRepository
	sink   *memory.Sink
	seq    *sequencer.Sequencer
	guard  *idempotency.Guard
	p      *Processor
}

func newHarness(t *testing.T, sink cdc.Sink, opts Options) *harness {
	t.Helper()

	h := &harness{
		store:  memory.NewStore(),
		events: memory.NewEventRepository(),
		routes: memory.NewRoutingRepository(routing.Configuration{
			TableName:  "customers",
			Exchange:   "cdc.customers",
			RoutingKey: "customers.changed",
			IsActive:   true,
		}),
		sink: memory.NewSink(),
	}
	if sink == nil {
		sink = h.sink
	}
	h.seq = sequencer.New(h.store, sequencer.Options{})
	h.guard = idempotency.New(h.store, 0)
	resolver := routes.NewResolver(h.routes, h.store, 0, nil)
	h.p = New(h.guard, h.seq, resolver, h.events, sink, opts)
	return h
}

func msg(pk string, seq int64) cdc.Message {
	return cdc.Message{
		MessageID:      fmt.Sprintf("%s-%d", pk, seq),
		TableName:      "customers",
		Operation:      "UPDATE",
		Payload:        fmt.Sprintf(`{"seq":%d}`, seq),
		SequenceNumber: seq,
		PartitionKey:   pk,
		Timestamp:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (h *harness) expected(t *testing.T, pk string) int64 {
	t.Helper()
	n, err := h.seq.Expected(context.Background(), pk)
	require.NoError(t, err)
	return n
}

func (h *harness) record(t *testing.T, messageID string) *cdc.EventRecord {
	t.Helper()
	r, err := h.events.GetByMessageID(context.Background(), messageID)
	require.NoError(t, err)
	return r
}

func publishedSeqs(pubs []cdc.Publication, pk string) []int64 {
	var out []int64
	for _, p := range pubs {
		if p.PartitionKey != pk {
			continue
		}
		var seq int64
		_, _ = fmt.Sscanf(p.Message.Payload, `{"seq":%d}`, &seq)
		out = append(out, seq)
	}
	return out
}

func TestProcess_InOrderMessageIsForwarded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})

	require.NoError(t, h.p.Process(ctx, msg("cust-1", 0)))

	assert.Equal(t, int64(1), h.expected(t, "cust-1"))

	rec := h.record(t, "cust-1-0")
	assert.Equal(t, cdc.StatusCompleted, rec.Status)
	assert.NotNil(t, rec.ProcessedAt)
	assert.Nil(t, rec.ErrorMessage)

	done, err := h.guard.IsProcessed(ctx, "cust-1-0")
	require.NoError(t, err)
	assert.True(t, done)

	pubs := h.sink.Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "cdc.customers", pubs[0].Exchange)
	assert.Equal(t, "customers.changed", pubs[0].RoutingKey)
	assert.Equal(t, "cust-1", pubs[0].PartitionKey)
	assert.Equal(t, msg("cust-1", 0).Forward(), pubs[0].Message)
}

func TestProcess_GapIsBufferedThenDrained(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})

	require.NoError(t, h.p.Process(ctx, msg("cust-1", 0)))

	require.NoError(t, h.p.Process(ctx, msg("cust-1", 2)))
	assert.Len(t, h.sink.Published(), 1)
	assert.Equal(t, int64(1), h.expected(t, "cust-1"))
	_, err := h.events.GetByMessageID(ctx, "cust-1-2")
	assert.ErrorIs(t, err, cdc.ErrNotFound)

	require.NoError(t, h.p.Process(ctx, msg("cust-1", 1)))
	assert.Equal(t, []int64{0, 1, 2}, publishedSeqs(h.sink.Published(), "cust-1"))
	assert.Equal(t, int64(3), h.expected(t, "cust-1"))
	assert.Equal(t, cdc.StatusCompleted, h.record(t, "cust-1-2").Status)

	left, err := h.seq.DrainReady(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestProcess_DrainStopsAtFirstGap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})

	for _, seq := range []int64{1, 2, 4, 5} {
		require.NoError(t, h.p.Process(ctx, msg("p", seq)))
	}
	assert.Empty(t, h.sink.Published())

	require.NoError(t, h.p.Process(ctx, msg("p", 0)))
	assert.Equal(t, []int64{0, 1, 2}, publishedSeqs(h.sink.Published(), "p"))
	assert.Equal(t, int64(3), h.expected(t, "p"))

	require.NoError(t, h.p.Process(ctx, msg("p", 3)))
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, publishedSeqs(h.sink.Published(), "p"))
}

func TestProcess_ReplayIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})

	require.NoError(t, h.p.Process(ctx, msg("cust-1", 0)))
	before := h.record(t, "cust-1-0")

	require.NoError(t, h.p.Process(ctx, msg("cust-1", 0)))

	assert.Len(t, h.sink.Published(), 1)
	assert.Equal(t, before, h.record(t, "cust-1-0"))
	assert.Equal(t, int64(1), h.expected(t, "cust-1"))
}

func TestProcess_StaleSequenceIsDiscarded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})

	require.NoError(t, h.p.Process(ctx, msg("p", 0)))
	require.NoError(t, h.p.Process(ctx, msg("p", 1)))

	stale := msg("p", 0)
	stale.MessageID = "p-0-duplicate"
	require.NoError(t, h.p.Process(ctx, stale))

	assert.Len(t, h.sink.Published(), 2)
	assert.Equal(t, int64(2), h.expected(t, "p"))
	_, err := h.events.GetByMessageID(ctx, "p-0-duplicate")
	assert.ErrorIs(t, err, cdc.ErrNotFound)
}

func TestProcess_InvalidMessage(t *testing.T) {
	h := newHarness(t, nil, Options{})

	m := msg("p", 0)
	m.PartitionKey = ""
	err := h.p.Process(context.Background(), m)
	assert.ErrorIs(t, err, cdc.ErrInvalidMessage)
	assert.Empty(t, h.events.All())
}

func TestProcess_PublishTimeoutMarksFailed(t *testing.T) {
	ctx := context.Background()
	blocking := cdc.SinkFunc(func(ctx context.Context, _ cdc.Publication) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := newHarness(t, blocking, Options{PublishTimeout: 20 * time.Millisecond})

	err := h.p.Process(ctx, msg("cust-1", 0))

	var pubErr *cdc.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, "cust-1-0", pubErr.MessageID)
	assert.ErrorIs(t, err, cdc.ErrPublish)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec := h.record(t, "cust-1-0")
	assert.Equal(t, cdc.StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "deadline exceeded")
	assert.Equal(t, 0, rec.RetryCount)

	assert.Equal(t, int64(0), h.expected(t, "cust-1"))
	done, err := h.guard.IsProcessed(ctx, "cust-1-0")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestProcess_MissingRoutingPersistsFailedRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})

	m := msg("p", 0)
	m.TableName = "invoices"
	err := h.p.Process(ctx, m)

	var notFound *cdc.RoutingNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "invoices", notFound.TableName)
	assert.Equal(t, 0, h.sink.Attempts())

	rec := h.record(t, "p-0")
	assert.Equal(t, cdc.StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "invoices")
	assert.Equal(t, int64(0), h.expected(t, "p"))

	// redelivery keeps a single record
	require.Error(t, h.p.Process(ctx, m))
	assert.Len(t, h.events.All(), 1)
}

func TestProcess_RedeliveryRepublishesFailedRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})
	h.sink.Fail = func(_ cdc.Publication, attempt int) error {
		if attempt == 1 {
			return errors.New("connection reset")
		}
		return nil
	}

	require.Error(t, h.p.Process(ctx, msg("p", 0)))
	failed := h.record(t, "p-0")
	assert.Equal(t, cdc.StatusFailed, failed.Status)

	require.NoError(t, h.p.Process(ctx, msg("p", 0)))
	rec := h.record(t, "p-0")
	assert.Equal(t, failed.ID, rec.ID)
	assert.Equal(t, cdc.StatusCompleted, rec.Status)
	assert.Len(t, h.events.All(), 1)
	assert.Len(t, h.sink.Published(), 1)
	assert.Equal(t, int64(1), h.expected(t, "p"))
}

func TestProcess_CompletedRecordIsSettledWithoutRepublish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})

	// a crash after the completion write but before the cursor moved
	rec := cdc.NewEventRecord("rec-1", msg("p", 0), time.Now())
	_, err := h.events.CreateIfNotExists(ctx, rec)
	require.NoError(t, err)
	rec.Complete(time.Now())
	require.NoError(t, h.events.Update(ctx, rec))

	require.NoError(t, h.p.Process(ctx, msg("p", 0)))

	assert.Equal(t, 0, h.sink.Attempts())
	assert.Equal(t, int64(1), h.expected(t, "p"))
	done, err := h.guard.IsProcessed(ctx, "p-0")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestReconcile_ResumesPartitionAfterRetry(t *testing.T) {
	for _, status := range []cdc.Status{cdc.StatusCompleted, cdc.StatusDeadLettered} {
		t.Run(string(status), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, nil, Options{})
			h.sink.Fail = func(p cdc.Publication, _ int) error {
				if p.Message.MessageID == "p-0" {
					return errors.New("broker unavailable")
				}
				return nil
			}

			require.Error(t, h.p.Process(ctx, msg("p", 0)))
			require.NoError(t, h.p.Process(ctx, msg("p", 1)))
			assert.Empty(t, h.sink.Published())

			rec := h.record(t, "p-0")
			if status == cdc.StatusCompleted {
				rec.Complete(time.Now())
			} else {
				rec.Status = cdc.StatusDeadLettered
			}
			require.NoError(t, h.events.Update(ctx, rec))

			require.NoError(t, h.p.Reconcile(ctx, rec))

			assert.Equal(t, []int64{1}, publishedSeqs(h.sink.Published(), "p"))
			assert.Equal(t, int64(2), h.expected(t, "p"))

			done, err := h.guard.IsProcessed(ctx, "p-0")
			require.NoError(t, err)
			assert.Equal(t, status == cdc.StatusCompleted, done)

			// a second reconcile is a no-op
			require.NoError(t, h.p.Reconcile(ctx, rec))
			assert.Equal(t, int64(2), h.expected(t, "p"))
		})
	}
}

func TestReconcile_IgnoresNonTerminalRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})

	rec := cdc.NewEventRecord("rec-1", msg("p", 0), time.Now())
	rec.Status = cdc.StatusRetryScheduled
	require.NoError(t, h.p.Reconcile(ctx, rec))
	assert.Equal(t, int64(0), h.expected(t, "p"))
}

func TestProcess_AnyDeliveryOrderForwardsInSequence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})

	const n = 50
	partitions := []string{"a", "b", "c"}
	var deliveries []cdc.Message
	for _, pk := range partitions {
		for i := int64(0); i < n; i++ {
			deliveries = append(deliveries, msg(pk, i))
		}
	}
	rnd := rand.New(rand.NewSource(42))
	rnd.Shuffle(len(deliveries), func(i, j int) {
		deliveries[i], deliveries[j] = deliveries[j], deliveries[i]
	})
	// a few redeliveries on top
	deliveries = append(deliveries, deliveries[:10]...)

	for _, m := range deliveries {
		require.NoError(t, h.p.Process(ctx, m))
	}

	want := make([]int64, n)
	for i := range want {
		want[i] = int64(i)
	}
	for _, pk := range partitions {
		assert.Equal(t, want, publishedSeqs(h.sink.Published(), pk), pk)
		assert.Equal(t, int64(n), h.expected(t, pk))
	}
}

func TestProcess_ConcurrentConsumersKeepOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Options{})
	// a second instance sharing the same cache, store and sink
	other := New(h.guard, h.seq, routes.NewResolver(h.routes, h.store, 0, nil), h.events, h.sink, Options{})

	const n = 40
	deliveries := make(chan cdc.Message, n)
	order := rand.New(rand.NewSource(7)).Perm(n)
	for _, i := range order {
		deliveries <- msg("shared", int64(i))
	}
	close(deliveries)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < 4; i++ {
		p := h.p
		if i%2 == 1 {
			p = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range deliveries {
				err := p.Process(ctx, m)
				for cdc.IsTransient(err) {
					err = p.Process(ctx, m)
				}
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	want := make([]int64, n)
	for i := range want {
		want[i] = int64(i)
	}
	assert.Equal(t, want, publishedSeqs(h.sink.Published(), "shared"))
}
