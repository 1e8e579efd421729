// Package reconcile merges freshly-fetched submission facts with the
// locally-owned workflow metadata: a left-outer-join keyed on the response
// token, provider data on the left, metadata on the right, defaulting on
// miss.
package reconcile

import "github.com/opsboard/leadsync/internal/lead"

// Enrich overlays each lead with its metadata row when one exists, or the
// first-sight defaults when none does. Metadata is indexed once so the cost
// is one pass over each slice regardless of lead count. No lead is ever
// dropped, and submission facts are never touched.
func Enrich(leads []lead.Lead, metadata []lead.Metadata) []lead.Lead {
	byID := make(map[string]lead.Metadata, len(metadata))
	for _, m := range metadata {
		byID[m.ResponseID] = m
	}

	enriched := make([]lead.Lead, len(leads))
	for i, l := range leads {
		if m, ok := byID[l.ResponseID]; ok {
			l.Status = m.Status
			l.Priority = m.Priority
			l.Notes = m.Notes
			l.AssignedTo = m.AssignedTo
			l.Partner = m.Partner
		} else {
			l.Status = lead.DefaultStatus
			l.Priority = lead.DerivePriority(l.RequesterType, l.Motive)
			l.Notes = ""
			l.AssignedTo = ""
			l.Partner = ""
		}
		enriched[i] = l
	}
	return enriched
}
