// Package lead holds the domain types shared by the fetch, reconcile and
// sync layers: the flattened lead record, its locally-owned workflow
// metadata, and the status/priority vocabularies.
package lead

import (
	"encoding/json"
	"strings"
	"time"
)

type Status string

const (
	StatusNew           Status = "new"
	StatusToContact     Status = "to_contact"
	StatusQualified     Status = "qualified"
	StatusOutOfCriteria Status = "out_of_criteria"
	StatusToRelaunch    Status = "to_relaunch"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

const (
	DefaultStatus   = StatusNew
	DefaultPriority = PriorityMedium
)

// Statuses lists the canonical workflow states in funnel order.
func Statuses() []Status {
	return []Status{StatusNew, StatusToContact, StatusQualified, StatusOutOfCriteria, StatusToRelaunch}
}

func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh}
}

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusToContact, StatusQualified, StatusOutOfCriteria, StatusToRelaunch:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Lead is the flattened view of one form submission. Submission facts are
// re-derived from the provider on every fetch; the workflow fields are owned
// by the metadata store and overlaid by the reconciler.
type Lead struct {
	ResponseID    string    `json:"typeform_response_id"`
	FormID        string    `json:"form_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Name          string    `json:"name"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	Company       string    `json:"company,omitempty"`
	Message       string    `json:"message,omitempty"`
	RequesterType string    `json:"requester_type,omitempty"`
	Motive        string    `json:"motif,omitempty"`
	Address       string    `json:"address,omitempty"`
	AddressLine2  string    `json:"address_line2,omitempty"`
	City          string    `json:"city,omitempty"`
	PostalCode    string    `json:"postal_code,omitempty"`
	StateRegion   string    `json:"state_region,omitempty"`
	Department    string    `json:"department,omitempty"`
	Country       string    `json:"country,omitempty"`
	NetworkID     string    `json:"network_id,omitempty"`

	Status     Status   `json:"status"`
	Priority   Priority `json:"priority"`
	Notes      string   `json:"notes,omitempty"`
	AssignedTo string   `json:"assigned_to,omitempty"`
	Partner    string   `json:"partner,omitempty"`

	// RawData is the unprocessed provider response, kept for audit. Nothing
	// downstream parses it again.
	RawData json.RawMessage `json:"raw_data,omitempty"`
}

// Metadata is the locally-owned workflow state for one lead, keyed by the
// provider response token. Rows are never hard-deleted; archival is a status.
type Metadata struct {
	ResponseID string    `json:"typeform_response_id"`
	Status     Status    `json:"status"`
	Priority   Priority  `json:"priority"`
	Notes      string    `json:"notes,omitempty"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	Partner    string    `json:"partner,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// Collaborator is an assignable person, read-only from this system.
type Collaborator struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

var highPrioritySectors = []string{"tech", "finance", "santé"}

var highPriorityNeeds = []string{"urgent", "important"}

// DerivePriority guesses an initial priority for a lead that has never been
// triaged, from its sector and stated need. Used only on first sight; once a
// metadata row exists its priority always wins.
func DerivePriority(sector, need string) Priority {
	sector = strings.ToLower(sector)
	need = strings.ToLower(need)
	for _, s := range highPrioritySectors {
		if s != "" && strings.Contains(sector, s) {
			return PriorityHigh
		}
	}
	for _, n := range highPriorityNeeds {
		if n != "" && strings.Contains(need, n) {
			return PriorityHigh
		}
	}
	return PriorityMedium
}
