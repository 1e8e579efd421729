// Package metastore persists the locally-owned side of the system: workflow
// metadata keyed by response token, the backfilled lead mirror, and the
// collaborator directory. Backends are selected by DSN scheme; Postgres is
// the production one, the in-memory one serves tests and local runs.
package metastore

import (
	"context"
	"errors"

	"github.com/opsboard/leadsync/internal/lead"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// MetadataPatch carries the mutable workflow fields of one upsert. Nil
// pointers mean "leave unchanged" on update and "use the default" on insert.
type MetadataPatch struct {
	Status     *lead.Status
	Priority   *lead.Priority
	Notes      *string
	AssignedTo *string
	Partner    *string
}

// Store is the relational-backend accessor. Upserts are explicit
// read-check-then-write; the duplicate-insert race is handled, not
// prevented.
type Store interface {
	// UpsertMetadata creates or updates the workflow row for a response
	// token and returns the resulting state.
	UpsertMetadata(ctx context.Context, responseID string, patch MetadataPatch) (lead.Metadata, error)
	GetMetadata(ctx context.Context, responseID string) (lead.Metadata, bool, error)
	// ListMetadata returns every workflow row in one scan, for the
	// reconciler's single-pass join.
	ListMetadata(ctx context.Context) ([]lead.Metadata, error)

	// UpsertLead mirrors one reconciled lead into the backfill table.
	// When overwriteWorkflow is false an existing row keeps its recorded
	// status/priority/notes/assignee/partner. Reports whether a row was
	// created.
	UpsertLead(ctx context.Context, l lead.Lead, overwriteWorkflow bool) (bool, error)
	ListLeads(ctx context.Context) ([]lead.Lead, error)

	ListCollaborators(ctx context.Context) ([]lead.Collaborator, error)

	Close() error
}
