package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Worker periodically drains unpublished outbox rows and publishes each
// to Kafka, following the teacher's channel-fed Worker.Run loop shape
// (pkg/platform/audit/worker/worker.go), adapted from a channel consumer
// to a polling outbox flusher since this gateway's outbox is Postgres,
// not an in-process channel.
type Worker struct {
	store     *Store
	publisher *Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewWorker constructs a Worker flushing store's outbox to publisher.
func NewWorker(store *Store, publisher *Publisher, logger *slog.Logger, interval time.Duration) *Worker {
	return &Worker{store: store, publisher: publisher, logger: logger, interval: interval, batchSize: 100}
}

// Run polls until ctx is canceled, flushing one batch per tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.flush(ctx); err != nil {
				w.logger.ErrorContext(ctx, "audit outbox flush failed", "error", err)
			}
		}
	}
}

func (w *Worker) flush(ctx context.Context) error {
	rows, err := w.store.pullUnpublished(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	published := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		if err := w.publisher.Publish(ctx, row.Event); err != nil {
			w.logger.ErrorContext(ctx, "audit event publish failed", "error", err, "event_id", row.ID)
			continue
		}
		published = append(published, row.ID)
	}

	return w.store.markPublished(ctx, published)
}
