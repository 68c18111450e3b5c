// Package access evaluates the relational access-check policy described in
// the original program's Access.hxx: each served path is governed by a
// policy (denied/granted/row-only/date-only/row-and-date), and row-only
// and date-only policies additionally require group membership and/or a
// proprietary-period release date. Ported from a C++ enum + per-request
// lookup to a Postgres-backed Store, following the teacher's
// revocation/postgres.go shape (parameterized queries, pq.Array batch
// operations, an injected Clock for deterministic tests).
package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fitsgw/pkg/gatewayerrors"
	"fitsgw/pkg/platform/circuit"
)

// Policy mirrors the original program's Access::Policy enum.
type Policy int

const (
	PolicyDenied Policy = iota
	PolicyGranted
	PolicyRowOnly
	PolicyDateOnly
	PolicyRowDate
)

// Decision is the evaluated outcome of a single access check, used as a
// metrics label and audit field.
type Decision string

const (
	DecisionGranted  Decision = "granted"
	DecisionRowOnly  Decision = "row_only"
	DecisionDateOnly Decision = "date_only"
	DecisionRowDate  Decision = "row_date"
	DecisionDenied   Decision = "denied"
)

// Clock is injected for deterministic proprietary-period comparisons in
// tests, following the teacher's revocation store pattern.
type Clock func() time.Time

// Store evaluates access policy rows stored in Postgres. A circuit
// breaker guards the lookup so a degraded Postgres instance fails fast
// (denying access) instead of letting every request queue on a slow
// connection pool.
type Store struct {
	db      *sql.DB
	clock   Clock
	breaker *circuit.Breaker
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the Store's clock, for tests.
func WithClock(clock Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithBreaker overrides the Store's circuit breaker, for tests.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Store) {
		if b != nil {
			s.breaker = b
		}
	}
}

// New constructs a Store backed by db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, clock: time.Now, breaker: circuit.New("access-postgres")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type policyRow struct {
	policy      Policy
	groupID     sql.NullInt64
	releaseDate sql.NullTime
}

// lookupPolicy finds the access_policies row governing path, matching the
// longest stored path_prefix that is a prefix of path. No matching row
// means the path is ungoverned and defaults to granted, per the original
// program's behavior of only restricting tables it knows about.
func (s *Store) lookupPolicy(ctx context.Context, path string) (policyRow, bool, error) {
	const q = `
		SELECT policy, group_id, release_date
		FROM access_policies
		WHERE $1 LIKE path_prefix || '%'
		ORDER BY length(path_prefix) DESC
		LIMIT 1
	`
	var row policyRow
	err := s.db.QueryRowContext(ctx, q, path).Scan(&row.policy, &row.groupID, &row.releaseDate)
	if errors.Is(err, sql.ErrNoRows) {
		return policyRow{}, false, nil
	}
	if err != nil {
		return policyRow{}, false, fmt.Errorf("lookup access policy: %w", err)
	}
	return row, true, nil
}

// isMember reports whether subject belongs to groupID.
func (s *Store) isMember(ctx context.Context, subject string, groupID int64) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM subject_groups WHERE subject = $1 AND group_id = $2)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, q, subject, groupID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check group membership: %w", err)
	}
	return ok, nil
}

// Evaluate resolves the access decision for subject requesting path.
// allowed is the final yes/no outcome; decision names which policy branch
// produced it, for metrics and audit.
func (s *Store) Evaluate(ctx context.Context, path, subject string) (decision Decision, allowed bool, err error) {
	if s.breaker.IsOpen() {
		return DecisionDenied, false, gatewayerrors.New(gatewayerrors.CodeInternal, "access policy store unavailable")
	}

	row, found, err := s.lookupPolicy(ctx, path)
	if err != nil {
		s.breaker.RecordFailure()
		return "", false, gatewayerrors.Wrap(gatewayerrors.CodeInternal, "access policy lookup failed", err)
	}
	s.breaker.RecordSuccess()

	if !found {
		return DecisionGranted, true, nil
	}

	switch row.policy {
	case PolicyGranted:
		return DecisionGranted, true, nil
	case PolicyDenied:
		return DecisionDenied, false, nil
	case PolicyRowOnly:
		member, err := s.groupMember(ctx, subject, row)
		if err != nil {
			return "", false, err
		}
		return DecisionRowOnly, member, nil
	case PolicyDateOnly:
		return DecisionDateOnly, s.released(row), nil
	case PolicyRowDate:
		member, err := s.groupMember(ctx, subject, row)
		if err != nil {
			return "", false, err
		}
		return DecisionRowDate, member || s.released(row), nil
	default:
		return DecisionDenied, false, nil
	}
}

func (s *Store) groupMember(ctx context.Context, subject string, row policyRow) (bool, error) {
	if subject == "" || !row.groupID.Valid {
		return false, nil
	}
	member, err := s.isMember(ctx, subject, row.groupID.Int64)
	if err != nil {
		return false, gatewayerrors.Wrap(gatewayerrors.CodeInternal, "access policy lookup failed", err)
	}
	return member, nil
}

func (s *Store) released(row policyRow) bool {
	if !row.releaseDate.Valid {
		return true
	}
	return !s.clock().Before(row.releaseDate.Time)
}

// GrantGroups adds subject to each group in groupIDs in a single batch
// insert, following the teacher's RevokeSessionTokens unnest($1::int[])
// pattern instead of one INSERT per group.
func (s *Store) GrantGroups(ctx context.Context, subject string, groupIDs []int64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	const q = `
		INSERT INTO subject_groups (subject, group_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, q, subject, pq.Array(groupIDs))
	if err != nil {
		return fmt.Errorf("grant groups: %w", err)
	}
	return nil
}
