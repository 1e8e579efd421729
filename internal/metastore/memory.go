package metastore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opsboard/leadsync/internal/lead"
)

// MemoryStore keeps everything in maps behind one mutex. Used for tests and
// credential-free local runs.
type MemoryStore struct {
	mu            sync.Mutex
	metadata      map[string]lead.Metadata
	leads         map[string]lead.Lead
	collaborators []lead.Collaborator
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metadata: map[string]lead.Metadata{},
		leads:    map[string]lead.Lead{},
	}
}

func (s *MemoryStore) UpsertMetadata(ctx context.Context, responseID string, patch MetadataPatch) (lead.Metadata, error) {
	responseID = strings.TrimSpace(responseID)
	if responseID == "" {
		return lead.Metadata{}, fmt.Errorf("%w: response id is required", ErrInvalidInput)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return lead.Metadata{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *patch.Status)
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return lead.Metadata{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, *patch.Priority)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	m, found := s.metadata[responseID]
	if !found {
		m = lead.Metadata{
			ResponseID: responseID,
			Status:     lead.DefaultStatus,
			Priority:   lead.DefaultPriority,
			CreatedAt:  now,
		}
	}
	applyPatch(&m, patch)
	m.UpdatedAt = now
	s.metadata[responseID] = m
	return m, nil
}

func (s *MemoryStore) GetMetadata(ctx context.Context, responseID string) (lead.Metadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, found := s.metadata[responseID]
	return m, found, nil
}

func (s *MemoryStore) ListMetadata(ctx context.Context) ([]lead.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]lead.Metadata, 0, len(s.metadata))
	for _, m := range s.metadata {
		items = append(items, m)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ResponseID < items[j].ResponseID })
	return items, nil
}

func (s *MemoryStore) UpsertLead(ctx context.Context, l lead.Lead, overwriteWorkflow bool) (bool, error) {
	if strings.TrimSpace(l.ResponseID) == "" {
		return false, fmt.Errorf("%w: lead response id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found := s.leads[l.ResponseID]
	if found && !overwriteWorkflow {
		l.Status = existing.Status
		l.Priority = existing.Priority
		l.Notes = existing.Notes
		l.AssignedTo = existing.AssignedTo
		l.Partner = existing.Partner
	}
	s.leads[l.ResponseID] = l
	return !found, nil
}

func (s *MemoryStore) ListLeads(ctx context.Context) ([]lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]lead.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		items = append(items, l)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SubmittedAt.After(items[j].SubmittedAt) })
	return items, nil
}

func (s *MemoryStore) ListCollaborators(ctx context.Context) ([]lead.Collaborator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]lead.Collaborator, 0, len(s.collaborators))
	for _, c := range s.collaborators {
		if c.Active {
			items = append(items, c)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// SeedCollaborators replaces the directory contents. Test helper.
func (s *MemoryStore) SeedCollaborators(collaborators []lead.Collaborator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collaborators = append([]lead.Collaborator(nil), collaborators...)
}

func (s *MemoryStore) Close() error { return nil }
