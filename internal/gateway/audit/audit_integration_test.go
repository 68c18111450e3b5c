//go:build integration

package audit_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fitsgw/internal/gateway/audit"
	"fitsgw/pkg/testutil/containers"
)

const schema = `
CREATE TABLE audit_outbox (
	id         UUID PRIMARY KEY,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	published  BOOLEAN NOT NULL DEFAULT FALSE
);
`

type AuditSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	redpanda  *containers.RedpandaContainer
	store     *audit.Store
	publisher *audit.Publisher
}

func TestAuditSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditSuite))
}

func (s *AuditSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), schema)
	s.redpanda = containers.NewRedpandaContainer(s.T())

	s.store = audit.New(s.postgres.DB)

	pub, err := audit.NewPublisher(context.Background(), s.redpanda.Brokers, "fitsgw.audit.test")
	s.Require().NoError(err)
	s.publisher = pub
}

func (s *AuditSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background(), "audit_outbox"))
}

func (s *AuditSuite) TestAppendThenWorkerFlushesAndMarksPublished() {
	ctx := context.Background()
	event := audit.Event{
		Path:     "/missions/public/a.fits",
		Subject:  "alice",
		Kind:     audit.KindCutout,
		Decision: "granted",
		Status:   audit.StatusServed,
	}
	s.Require().NoError(s.store.Append(ctx, event))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	worker := audit.NewWorker(s.store, s.publisher, logger, 50*time.Millisecond)

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go func() { _ = worker.Run(runCtx) }()

	s.Require().Eventually(func() bool {
		var count int
		err := s.postgres.DB.QueryRowContext(ctx, `SELECT count(*) FROM audit_outbox WHERE published = TRUE`).Scan(&count)
		return err == nil && count == 1
	}, time.Second, 50*time.Millisecond, "outbox row must be marked published once flushed")
}
