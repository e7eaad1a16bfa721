package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pixbridge/pkg/models"
	"pixbridge/pkg/router"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]EventRecord
	err     error
}

func (m *memorySink) WriteBatch(_ context.Context, records []EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, append([]EventRecord(nil), records...))
	return nil
}

func (m *memorySink) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func envelope(id string) models.Envelope {
	return models.Envelope{
		EventType: models.EventPaymentComplete,
		DeviceID:  "kiosk-1",
		EventID:   id,
		CreatedAt: 1700000000000,
		Payload:   map[string]any{"amount": "100"},
	}
}

func TestNewEventRecord(t *testing.T) {
	received := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := NewEventRecord(envelope("e1"), router.Cooled, received)

	assert.Equal(t, "kiosk-1", rec.DeviceID)
	assert.Equal(t, "payment_complete", rec.EventType)
	assert.Equal(t, "e1", rec.EventID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), rec.ProducedAt)
	assert.Equal(t, received, rec.ReceivedAt)
	assert.Equal(t, "cooled", rec.Outcome)
	assert.JSONEq(t, `{"amount":"100"}`, rec.Payload)

	empty := NewEventRecord(models.Envelope{EventType: "bogus"}, router.Malformed, received)
	assert.Equal(t, "{}", empty.Payload)
	assert.True(t, empty.ProducedAt.IsZero())
}

func TestJournalBatches(t *testing.T) {
	sink := &memorySink{}
	j := NewJournal(sink, 16, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		j.Record(envelope("e"), router.Routed)
	}
	require.Eventually(t, func() bool { return sink.total() == 3 }, 2*time.Second, 10*time.Millisecond)

	j.Record(envelope("tail"), router.Duplicate)
	cancel()
	<-done
	assert.Equal(t, 4, sink.total())
}

func TestJournalFlushesOnInterval(t *testing.T) {
	sink := &memorySink{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	j := NewJournal(sink, 16, 100, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Run(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	j.Record(envelope("e1"), router.Routed)
	require.Eventually(t, func() bool { return len(j.queue) == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, sink.total(), "a partial batch waits for the interval")

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return sink.total() == 1 }, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), sink.batches[0][0].ReceivedAt)
}

func TestJournalRecordNeverBlocks(t *testing.T) {
	j := NewJournal(&memorySink{}, 1, 1, nil)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			j.Record(envelope("e"), router.Routed)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Record blocked with a full queue")
	}
	assert.Len(t, j.queue, 1)
}

func TestJournalSinkErrorIsLogged(t *testing.T) {
	sink := &memorySink{err: errors.New("connection refused")}
	j := NewJournal(sink, 4, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	j.Record(envelope("e1"), router.Routed)
	require.Eventually(t, func() bool { return len(j.queue) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, sink.total())
}
