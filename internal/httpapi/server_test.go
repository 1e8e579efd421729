package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsboard/leadsync/internal/lead"
	"github.com/opsboard/leadsync/internal/metastore"
	"github.com/opsboard/leadsync/internal/sheetstore"
)

type fakeFetcher struct {
	leads  []lead.Lead
	err    error
	calls  int
	formID string
}

func (f *fakeFetcher) FetchAll(_ context.Context, formID, _ string) ([]lead.Lead, error) {
	f.calls++
	f.formID = formID
	if f.err != nil {
		return nil, f.err
	}
	return append([]lead.Lead(nil), f.leads...), nil
}

type fakePusher struct {
	pushResult sheetstore.Result
	pushErr    error
	pushCreds  sheetstore.Credentials
	pushed     []lead.Lead
	override   bool

	workflowErr    error
	workflowPushed []lead.Lead
}

func (f *fakePusher) Push(_ context.Context, creds sheetstore.Credentials, leads []lead.Lead, overrideWorkflow bool) (sheetstore.Result, error) {
	f.pushCreds = creds
	f.pushed = leads
	f.override = overrideWorkflow
	return f.pushResult, f.pushErr
}

func (f *fakePusher) PushWorkflow(_ context.Context, _ sheetstore.Credentials, l lead.Lead) error {
	f.workflowPushed = append(f.workflowPushed, l)
	return f.workflowErr
}

func submittedAt(hour int) time.Time {
	return time.Date(2024, 5, 1, hour, 0, 0, 0, time.UTC)
}

func newTestServer(t *testing.T, fetcher *fakeFetcher, pusher *fakePusher, cfg ServerConfig) (*Server, *metastore.MemoryStore) {
	t.Helper()
	store := metastore.NewMemoryStore()
	var sp SheetPusher
	if pusher != nil {
		sp = pusher
	}
	return NewServer(store, fetcher, sp, cfg, zap.NewNop()), store
}

func sheetConfig() ServerConfig {
	return ServerConfig{
		FormID:     "FORM1",
		FormToken:  "tf-token",
		SheetCreds: sheetstore.Credentials{Token: "at", BaseID: "app1", Table: "Leads"},
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{}, nil, ServerConfig{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestSyncReturnsReconciledLeads(t *testing.T) {
	fetcher := &fakeFetcher{leads: []lead.Lead{
		{ResponseID: "t_1", Name: "Marie", SubmittedAt: submittedAt(9)},
		{ResponseID: "t_2", Name: "Jean", SubmittedAt: submittedAt(10)},
	}}
	srv, store := newTestServer(t, fetcher, nil, sheetConfig())

	_, err := store.UpsertMetadata(context.Background(), "t_1", metastore.MetadataPatch{
		Status:     statusPtr(lead.StatusQualified),
		AssignedTo: strPtr("Alice"),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool        `json:"success"`
		Data    []lead.Lead `json:"data"`
		Total   int         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Equal(t, 2, resp.Total)

	byID := map[string]lead.Lead{}
	for _, l := range resp.Data {
		byID[l.ResponseID] = l
	}
	assert.Equal(t, lead.StatusQualified, byID["t_1"].Status)
	assert.Equal(t, "Alice", byID["t_1"].AssignedTo)
	assert.Equal(t, lead.StatusNew, byID["t_2"].Status, "unseen lead gets defaults")
}

func TestSyncFormIDQueryOverridesConfig(t *testing.T) {
	fetcher := &fakeFetcher{}
	srv, _ := newTestServer(t, fetcher, nil, sheetConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync?form_id=FORM2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FORM2", fetcher.formID)
}

func TestSyncWithoutFormCredentials(t *testing.T) {
	fetcher := &fakeFetcher{}
	srv, _ := newTestServer(t, fetcher, nil, ServerConfig{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, fetcher.calls, "no upstream call without credentials")
}

func TestSyncSurfacesFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	srv, _ := newTestServer(t, fetcher, nil, sheetConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream down")
}

func TestAuthTokenGuardsAPIButNotHealth(t *testing.T) {
	cfg := sheetConfig()
	cfg.AuthToken = "secret"
	srv, _ := newTestServer(t, &fakeFetcher{}, nil, cfg)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/leads", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/leads", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/leads", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBackfillPersistsAndPreservesWorkflow(t *testing.T) {
	fetcher := &fakeFetcher{leads: []lead.Lead{
		{ResponseID: "t_1", Name: "Marie", SubmittedAt: submittedAt(9)},
	}}
	srv, store := newTestServer(t, fetcher, nil, sheetConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/backfill", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var first struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		BackfillResult
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.Success)
	assert.Contains(t, first.Message, "Backfill")
	assert.Equal(t, 1, first.TotalFetched)
	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, 0, first.Updated)

	// Someone qualifies the lead directly on the stored row.
	_, err := store.UpsertLead(context.Background(), lead.Lead{
		ResponseID: "t_1", Name: "Marie", Status: lead.StatusQualified, Priority: lead.PriorityHigh,
	}, true)
	require.NoError(t, err)

	fetcher.leads[0].Name = "Marie Curie"
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/backfill", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	leads, err := store.ListLeads(context.Background())
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "Marie Curie", leads[0].Name, "facts refresh")
	assert.Equal(t, lead.StatusQualified, leads[0].Status, "workflow survives the refetch")
}

func TestSheetSyncPushesReconciledLeads(t *testing.T) {
	fetcher := &fakeFetcher{leads: []lead.Lead{{ResponseID: "t_1"}}}
	pusher := &fakePusher{pushResult: sheetstore.Result{Created: 1}}
	srv, _ := newTestServer(t, fetcher, pusher, sheetConfig())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/sheet?override_workflow=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, pusher.override)
	require.Len(t, pusher.pushed, 1)
	assert.Equal(t, "app1", pusher.pushCreds.BaseID)

	var resp struct {
		Success bool              `json:"success"`
		Message string            `json:"message"`
		Results sheetstore.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "Synchronisation")
	assert.Equal(t, 1, resp.Results.Created)
}

func TestSheetSyncAcceptsPostedContacts(t *testing.T) {
	fetcher := &fakeFetcher{}
	pusher := &fakePusher{}
	srv, _ := newTestServer(t, fetcher, pusher, sheetConfig())

	body := strings.NewReader(`{"contacts":[{"typeform_response_id":"t_9","name":"Luc"}]}`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/sheet", body))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Zero(t, fetcher.calls, "posted contacts skip the upstream fetch")
	require.Len(t, pusher.pushed, 1)
	assert.Equal(t, "t_9", pusher.pushed[0].ResponseID)
}

func TestSheetSyncCredentialHeadersOverrideConfig(t *testing.T) {
	pusher := &fakePusher{}
	srv, _ := newTestServer(t, &fakeFetcher{}, pusher, sheetConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/sheet", nil)
	req.Header.Set("X-Airtable-Base", "appOther")
	req.Header.Set("X-Airtable-Table", "Autres")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "appOther", pusher.pushCreds.BaseID)
	assert.Equal(t, "Autres", pusher.pushCreds.Table)
	assert.Equal(t, "at", pusher.pushCreds.Token, "unset headers keep config values")
}

func TestSheetSyncWithoutPusher(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{}, nil, sheetConfig())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync/sheet", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPatchMetadataMirrorsToSheet(t *testing.T) {
	pusher := &fakePusher{}
	srv, _ := newTestServer(t, &fakeFetcher{}, pusher, sheetConfig())

	body := strings.NewReader(`{"status":"qualified","assigned_to":"Alice"}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/leads/t_1/metadata", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Metadata  lead.Metadata   `json:"metadata"`
		SheetSync sheetSyncReport `json:"sheet_sync"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, lead.StatusQualified, resp.Metadata.Status)
	assert.True(t, resp.SheetSync.Attempted)
	assert.True(t, resp.SheetSync.OK)
	require.Len(t, pusher.workflowPushed, 1)
	assert.Equal(t, "t_1", pusher.workflowPushed[0].ResponseID)
}

func TestPatchMetadataSheetFailureIsReportedNotFatal(t *testing.T) {
	pusher := &fakePusher{workflowErr: errors.New("sheet down")}
	srv, _ := newTestServer(t, &fakeFetcher{}, pusher, sheetConfig())

	body := strings.NewReader(`{"notes":"rappeler"}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/leads/t_1/metadata", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "the local save must win even when the sheet is down")

	var resp struct {
		SheetSync sheetSyncReport `json:"sheet_sync"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.SheetSync.Attempted)
	assert.False(t, resp.SheetSync.OK)
	assert.Contains(t, resp.SheetSync.Error, "sheet down")
}

func TestPatchMetadataRejectsUnknownStatus(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{}, nil, sheetConfig())

	body := strings.NewReader(`{"status":"escalated"}`)
	req := httptest.NewRequest(http.MethodPatch, "/v1/leads/t_1/metadata", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollaborators(t *testing.T) {
	srv, store := newTestServer(t, &fakeFetcher{}, nil, sheetConfig())
	store.SeedCollaborators([]lead.Collaborator{
		{ID: "1", Name: "Alice", Active: true},
		{ID: "2", Name: "Bob", Active: false},
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/collaborators", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count         int                 `json:"count"`
		Collaborators []lead.Collaborator `json:"collaborators"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Collaborators, 1)
	assert.Equal(t, "Alice", resp.Collaborators[0].Name)
}

func statusPtr(s lead.Status) *lead.Status { return &s }
func strPtr(s string) *string              { return &s }
