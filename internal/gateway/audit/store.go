package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "fitsgw/pkg/platform/tx"
)

// Store persists Events to the audit_outbox table. A background Worker
// drains unpublished rows onto Kafka; Postgres is the durable record even
// if the Kafka publish step is temporarily unavailable, following the
// teacher's "Kafka is the source of truth, outbox guarantees delivery"
// design.
type Store struct {
	db *sql.DB
}

// New constructs a Store backed by db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes event to the outbox, unpublished, in a single insert.
func (s *Store) Append(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	const q = `
		INSERT INTO audit_outbox (id, payload, created_at, published)
		VALUES ($1, $2, $3, FALSE)
	`
	_, err = s.execer(ctx).ExecContext(ctx, q, event.ID, payload, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit outbox row: %w", err)
	}
	return nil
}

// outboxRow pairs a row's event payload with its outbox id, so the
// caller can mark exactly the rows it published.
type outboxRow struct {
	ID    uuid.UUID
	Event Event
}

// pullUnpublished returns up to limit unpublished rows, oldest first.
func (s *Store) pullUnpublished(ctx context.Context, limit int) ([]outboxRow, error) {
	const q = `
		SELECT id, payload
		FROM audit_outbox
		WHERE published = FALSE
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished audit rows: %w", err)
	}
	defer rows.Close()

	var out []outboxRow
	for rows.Next() {
		var id uuid.UUID
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan audit outbox row: %w", err)
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("unmarshal audit event: %w", err)
		}
		out = append(out, outboxRow{ID: id, Event: event})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit outbox rows: %w", err)
	}
	return out, nil
}

// markPublished flags ids as published in a single batch update, using
// pq.Array's unnest the way the teacher's revocation store batches
// multi-row writes.
func (s *Store) markPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	const q = `UPDATE audit_outbox SET published = TRUE WHERE id = ANY($1::uuid[])`
	_, err := s.db.ExecContext(ctx, q, pq.Array(strs))
	if err != nil {
		return fmt.Errorf("mark audit rows published: %w", err)
	}
	return nil
}
