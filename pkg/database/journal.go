package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"pixbridge/pkg/models"
	"pixbridge/pkg/router"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
)

// EventRecord is one journaled ingress event with its pipeline outcome.
type EventRecord struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	DeviceID   string    `gorm:"index;size:128" json:"device_id"`
	EventType  string    `gorm:"size:64" json:"event_type"`
	EventID    string    `gorm:"size:256" json:"event_id"`
	ProducedAt time.Time `json:"produced_at"`
	ReceivedAt time.Time `gorm:"index" json:"received_at"`
	Outcome    string    `gorm:"size:32" json:"outcome"`
	Payload    string    `gorm:"type:jsonb" json:"payload"`
}

// TableName pins the journal table name.
func (EventRecord) TableName() string { return "event_records" }

// NewEventRecord builds a journal row from an ingested envelope.
func NewEventRecord(env models.Envelope, outcome router.Outcome, receivedAt time.Time) EventRecord {
	payload := "{}"
	if len(env.Payload) > 0 {
		if data, err := json.Marshal(env.Payload); err == nil {
			payload = string(data)
		}
	}
	var produced time.Time
	if env.CreatedAt > 0 {
		produced = env.Created().UTC()
	}
	return EventRecord{
		DeviceID:   env.DeviceID,
		EventType:  string(env.EventType),
		EventID:    env.EventID,
		ProducedAt: produced,
		ReceivedAt: receivedAt.UTC(),
		Outcome:    string(outcome),
		Payload:    payload,
	}
}

// Sink persists a batch of journal rows.
type Sink interface {
	WriteBatch(ctx context.Context, records []EventRecord) error
}

// Journal buffers ingress outcomes and writes them in batches on its own
// goroutine, so recording never blocks the ingress path.
type Journal struct {
	queue         chan EventRecord
	sink          Sink
	batchSize     int
	flushInterval time.Duration
	clock         clockwork.Clock
}

// NewJournal creates a journal writing to sink.
func NewJournal(sink Sink, queueSize, batchSize int, clock clockwork.Clock) *Journal {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Journal{
		queue:         make(chan EventRecord, queueSize),
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: time.Second,
		clock:         clock,
	}
}

// Record implements router.Recorder. When the queue is full the row is dropped.
func (j *Journal) Record(env models.Envelope, outcome router.Outcome) {
	select {
	case j.queue <- NewEventRecord(env, outcome, j.clock.Now()):
	default:
		slog.Warn("Journal queue full, dropping record", "component", "Journal",
			"device_id", env.DeviceID, "event_type", env.EventType)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (j *Journal) Run(ctx context.Context) {
	slog.Info("Starting journal writer", "component", "Journal", "batch_size", j.batchSize)

	ticker := j.clock.NewTicker(j.flushInterval)
	defer ticker.Stop()

	batch := make([]EventRecord, 0, j.batchSize)
	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case rec := <-j.queue:
					batch = append(batch, rec)
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			j.flush(flushCtx, batch)
			cancel()
			slog.Info("Stopping journal writer", "component", "Journal")
			return
		case rec := <-j.queue:
			batch = append(batch, rec)
			if len(batch) >= j.batchSize {
				j.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.Chan():
			if len(batch) > 0 {
				j.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (j *Journal) flush(ctx context.Context, batch []EventRecord) {
	if len(batch) == 0 {
		return
	}
	if err := j.sink.WriteBatch(ctx, batch); err != nil {
		slog.Error("Batch insert failed", "component", "Journal", "count", len(batch), "error", err)
		return
	}
	slog.Debug("Batch inserted journal records", "component", "Journal", "count", len(batch))
}

// CopySink writes batches with the postgres COPY protocol.
type CopySink struct {
	sqlDB *sql.DB
}

// NewCopySink creates a sink over a pgx-backed *sql.DB.
func NewCopySink(sqlDB *sql.DB) *CopySink {
	return &CopySink{sqlDB: sqlDB}
}

func (s *CopySink) WriteBatch(ctx context.Context, records []EventRecord) error {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{r.DeviceID, r.EventType, r.EventID, r.ProducedAt, r.ReceivedAt, r.Outcome, r.Payload})
	}

	conn, err := s.sqlDB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		pgxConn := driverConn.(*stdlib.Conn).Conn()
		_, copyErr := pgxConn.CopyFrom(
			ctx,
			pgx.Identifier{EventRecord{}.TableName()},
			[]string{"device_id", "event_type", "event_id", "produced_at", "received_at", "outcome", "payload"},
			pgx.CopyFromRows(rows),
		)
		return copyErr
	})
}
