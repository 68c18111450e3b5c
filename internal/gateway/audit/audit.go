// Package audit records one event per served request (listing, whole-file
// stream, or cutout) to a Postgres outbox table and publishes it onto a
// Kafka topic for downstream analytics, following the transactional
// outbox pattern in the teacher's pkg/platform/audit/store/postgres
// package, simplified from that package's compliance/security/operations
// tri-category model (GDPR-specific, no counterpart here) down to one
// Event shape with a single Decision field.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies which gateway operation produced the event.
type Kind string

const (
	KindListing Kind = "listing"
	KindFile    Kind = "file"
	KindCutout  Kind = "cutout"
)

// Status is the outcome recorded for the request.
type Status string

const (
	StatusServed Status = "served"
	StatusDenied Status = "denied"
	StatusError  Status = "error"
)

// Event is one audited request.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	RequestID string
	ClientIP  string
	Subject   string
	Path      string
	Kind      Kind
	Decision  string
	Status    Status
	Detail    string
}
