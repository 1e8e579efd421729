package reconcile

import (
	"testing"

	"github.com/opsboard/leadsync/internal/lead"
)

func TestEnrichFirstSightGetsDefaults(t *testing.T) {
	leads := []lead.Lead{{ResponseID: "abc", Name: "Someone", Email: "s@example.com"}}

	enriched := Enrich(leads, nil)

	if len(enriched) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(enriched))
	}
	got := enriched[0]
	if got.Status != lead.StatusNew || got.Priority != lead.PriorityMedium {
		t.Fatalf("expected new/medium defaults, got %s/%s", got.Status, got.Priority)
	}
	if got.Notes != "" || got.AssignedTo != "" || got.Partner != "" {
		t.Fatalf("expected empty workflow fields, got %+v", got)
	}
}

func TestEnrichFirstSightDerivesPriority(t *testing.T) {
	leads := []lead.Lead{{ResponseID: "abc", RequesterType: "Tech startup", Motive: "besoin urgent"}}

	got := Enrich(leads, nil)[0]

	if got.Priority != lead.PriorityHigh {
		t.Fatalf("expected derived high priority, got %s", got.Priority)
	}
	if got.Status != lead.StatusNew {
		t.Fatalf("expected new status, got %s", got.Status)
	}
}

func TestEnrichMetadataOverridesWorkflowOnly(t *testing.T) {
	leads := []lead.Lead{{ResponseID: "abc", Name: "Fresh Name", Email: "fresh@example.com"}}
	metadata := []lead.Metadata{{
		ResponseID: "abc",
		Status:     lead.StatusQualified,
		Priority:   lead.PriorityHigh,
		AssignedTo: "Alice",
		Notes:      "called twice",
		Partner:    "Acme",
	}}

	got := Enrich(leads, metadata)[0]

	if got.Name != "Fresh Name" || got.Email != "fresh@example.com" {
		t.Fatalf("submission facts must come from the fetch, got %+v", got)
	}
	if got.Status != lead.StatusQualified || got.Priority != lead.PriorityHigh {
		t.Fatalf("workflow fields must come from metadata, got %s/%s", got.Status, got.Priority)
	}
	if got.AssignedTo != "Alice" || got.Notes != "called twice" || got.Partner != "Acme" {
		t.Fatalf("metadata fields missing: %+v", got)
	}
}

func TestEnrichKeepsEveryLead(t *testing.T) {
	leads := []lead.Lead{
		{ResponseID: "a"},
		{ResponseID: "b"},
		{ResponseID: "c"},
	}
	metadata := []lead.Metadata{
		{ResponseID: "b", Status: lead.StatusToContact, Priority: lead.PriorityLow},
		{ResponseID: "zzz", Status: lead.StatusQualified, Priority: lead.PriorityHigh}, // no matching lead
	}

	enriched := Enrich(leads, metadata)

	if len(enriched) != 3 {
		t.Fatalf("no lead may be dropped, got %d", len(enriched))
	}
	if enriched[0].Status != lead.StatusNew {
		t.Fatalf("lead a: got %s", enriched[0].Status)
	}
	if enriched[1].Status != lead.StatusToContact || enriched[1].Priority != lead.PriorityLow {
		t.Fatalf("lead b: got %s/%s", enriched[1].Status, enriched[1].Priority)
	}
	if enriched[2].Status != lead.StatusNew {
		t.Fatalf("lead c: got %s", enriched[2].Status)
	}
}
