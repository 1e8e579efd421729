// Package httpapi exposes the dashboard's HTTP surface: reconciled lead
// listings, backfill and sheet-sync triggers, workflow metadata edits, and
// the collaborator directory.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opsboard/leadsync/internal/formsource"
	"github.com/opsboard/leadsync/internal/lead"
	"github.com/opsboard/leadsync/internal/metastore"
	"github.com/opsboard/leadsync/internal/reconcile"
	"github.com/opsboard/leadsync/internal/sheetstore"
)

// LeadFetcher pulls every submission for a form.
type LeadFetcher interface {
	FetchAll(ctx context.Context, formID, token string) ([]lead.Lead, error)
}

// SheetPusher mirrors leads into the team spreadsheet.
type SheetPusher interface {
	Push(ctx context.Context, creds sheetstore.Credentials, leads []lead.Lead, overrideWorkflow bool) (sheetstore.Result, error)
	PushWorkflow(ctx context.Context, creds sheetstore.Credentials, l lead.Lead) error
}

type ServerConfig struct {
	// AuthToken, when set, must arrive as a bearer token on every route
	// except /health.
	AuthToken string

	FormID    string
	FormToken string

	SheetCreds sheetstore.Credentials

	MaxBodyBytes int64
}

type Server struct {
	store   metastore.Store
	fetcher LeadFetcher
	pusher  SheetPusher
	cfg     ServerConfig
	logger  *zap.Logger
	router  chi.Router
}

func NewServer(store metastore.Store, fetcher LeadFetcher, pusher SheetPusher, cfg ServerConfig, logger *zap.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:   store,
		fetcher: fetcher,
		pusher:  pusher,
		cfg:     cfg,
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewMux()
	r.Use(
		requestID,
		s.logRequests,
		middleware.Recoverer,
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/sync", s.handleSync)
		r.Post("/sync/backfill", s.handleBackfill)
		r.Post("/sync/sheet", s.handleSheetSync)
		r.Get("/leads", s.handleListLeads)
		r.Patch("/leads/{responseID}/metadata", s.handlePatchMetadata)
		r.Get("/collaborators", s.handleCollaborators)
	})

	return r
}

// Serve runs the server on addr until ctx is cancelled, then drains within
// shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: s,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("httpapi: serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// fetchReconciled pulls every submission and overlays the local workflow
// metadata.
func (s *Server) fetchReconciled(ctx context.Context, formID, formToken string) ([]lead.Lead, error) {
	leads, err := s.fetcher.FetchAll(ctx, formID, formToken)
	if err != nil {
		return nil, err
	}
	metadata, err := s.store.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return reconcile.Enrich(leads, metadata), nil
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	formID, formToken := s.formCredentials(r)
	if formID == "" || formToken == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "form id and access token are required", reqID(r))
		return
	}
	leads, err := s.fetchReconciled(r.Context(), formID, formToken)
	if err != nil {
		s.writeFetchError(w, r, err)
		return
	}
	if leads == nil {
		leads = []lead.Lead{}
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool        `json:"success"`
		Data    []lead.Lead `json:"data"`
		Total   int         `json:"total"`
	}{Success: true, Data: leads, Total: len(leads)})
}

// BackfillResult tallies one store backfill.
type BackfillResult struct {
	TotalFetched int `json:"total_fetched"`
	Inserted     int `json:"inserted"`
	Updated      int `json:"updated"`
	Errors       int `json:"errors"`
}

// Message renders the tally as the operator-facing summary line.
func (r BackfillResult) Message() string {
	return fmt.Sprintf("Backfill terminé : %d insérés, %d mis à jour, %d erreurs", r.Inserted, r.Updated, r.Errors)
}

// RunBackfill fetches every submission and mirrors it into the store. Rows
// already known keep their workflow columns; unseen rows land with the
// first-sight defaults. Also used by the poller.
func (s *Server) RunBackfill(ctx context.Context) (BackfillResult, error) {
	leads, err := s.fetchReconciled(ctx, s.cfg.FormID, s.cfg.FormToken)
	if err != nil {
		return BackfillResult{}, err
	}

	result := BackfillResult{TotalFetched: len(leads)}
	for _, l := range leads {
		created, err := s.store.UpsertLead(ctx, l, false)
		if err != nil {
			result.Errors++
			s.logger.Warn("backfill row failed",
				zap.String("response_id", l.ResponseID),
				zap.Error(err))
			continue
		}
		if created {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	s.logger.Info("backfill finished",
		zap.Int("fetched", result.TotalFetched),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("errors", result.Errors))
	return result, nil
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	result, err := s.RunBackfill(r.Context())
	if err != nil {
		s.writeFetchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		BackfillResult
	}{Success: true, Message: result.Message(), BackfillResult: result})
}

func (s *Server) handleSheetSync(w http.ResponseWriter, r *http.Request) {
	if s.pusher == nil {
		writeError(w, http.StatusServiceUnavailable, "sheet_unconfigured", "sheet sync is not configured", reqID(r))
		return
	}
	creds, err := s.sheetCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), reqID(r))
		return
	}
	overrideWorkflow := r.URL.Query().Get("override_workflow") == "true"

	// The caller may post the records itself; an empty body means "fetch
	// and reconcile server-side".
	var req struct {
		Contacts []lead.Lead `json:"contacts"`
	}
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", reqID(r))
		return
	}

	leads := req.Contacts
	if len(leads) == 0 {
		formID, formToken := s.formCredentials(r)
		var err error
		leads, err = s.fetchReconciled(r.Context(), formID, formToken)
		if err != nil {
			s.writeFetchError(w, r, err)
			return
		}
	}

	result, err := s.pusher.Push(r.Context(), creds, leads, overrideWorkflow)
	if err != nil {
		writeError(w, http.StatusBadGateway, "sheet_error", err.Error(), reqID(r))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool              `json:"success"`
		Message string            `json:"message"`
		Results sheetstore.Result `json:"results"`
	}{Success: true, Message: result.Message(), Results: result})
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.store.ListLeads(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), reqID(r))
		return
	}
	if leads == nil {
		leads = []lead.Lead{}
	}
	writeJSON(w, http.StatusOK, struct {
		Count int         `json:"count"`
		Leads []lead.Lead `json:"leads"`
	}{Count: len(leads), Leads: leads})
}

type metadataPatchRequest struct {
	Status     *string `json:"status"`
	Priority   *string `json:"priority"`
	Notes      *string `json:"notes"`
	AssignedTo *string `json:"assigned_to"`
	Partner    *string `json:"partner"`
}

// sheetSyncReport tells the caller what happened to the best-effort sheet
// mirror of a metadata edit.
type sheetSyncReport struct {
	Attempted bool   `json:"attempted"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handlePatchMetadata(w http.ResponseWriter, r *http.Request) {
	responseID := chi.URLParam(r, "responseID")

	var req metadataPatchRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", reqID(r))
		return
	}

	patch := metastore.MetadataPatch{
		Notes:      req.Notes,
		AssignedTo: req.AssignedTo,
		Partner:    req.Partner,
	}
	if req.Status != nil {
		status := lead.Status(*req.Status)
		patch.Status = &status
	}
	if req.Priority != nil {
		priority := lead.Priority(*req.Priority)
		patch.Priority = &priority
	}

	m, err := s.store.UpsertMetadata(r.Context(), responseID, patch)
	if err != nil {
		switch {
		case errors.Is(err, metastore.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), reqID(r))
		case errors.Is(err, metastore.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", err.Error(), reqID(r))
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), reqID(r))
		}
		return
	}

	// Mirror the edit onto the sheet when configured. A sheet failure never
	// fails the edit; the outcome is reported alongside the saved row.
	report := s.mirrorMetadata(r, m)

	writeJSON(w, http.StatusOK, struct {
		Metadata  lead.Metadata   `json:"metadata"`
		SheetSync sheetSyncReport `json:"sheet_sync"`
	}{Metadata: m, SheetSync: report})
}

func (s *Server) mirrorMetadata(r *http.Request, m lead.Metadata) sheetSyncReport {
	if s.pusher == nil {
		return sheetSyncReport{}
	}
	creds, err := s.sheetCredentials(r)
	if err != nil {
		return sheetSyncReport{}
	}
	report := sheetSyncReport{Attempted: true}
	err = s.pusher.PushWorkflow(r.Context(), creds, lead.Lead{
		ResponseID: m.ResponseID,
		Status:     m.Status,
		Priority:   m.Priority,
		Notes:      m.Notes,
		AssignedTo: m.AssignedTo,
		Partner:    m.Partner,
	})
	if err != nil {
		report.Error = err.Error()
		s.logger.Warn("sheet mirror of metadata edit failed",
			zap.String("response_id", m.ResponseID),
			zap.Error(err))
		return report
	}
	report.OK = true
	return report
}

func (s *Server) handleCollaborators(w http.ResponseWriter, r *http.Request) {
	collaborators, err := s.store.ListCollaborators(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), reqID(r))
		return
	}
	if collaborators == nil {
		collaborators = []lead.Collaborator{}
	}
	writeJSON(w, http.StatusOK, struct {
		Count         int                 `json:"count"`
		Collaborators []lead.Collaborator `json:"collaborators"`
	}{Count: len(collaborators), Collaborators: collaborators})
}

// formCredentials lets a request override the configured form source via the
// form_id query parameter or headers, so a dashboard can inspect a different
// form without a restart.
func (s *Server) formCredentials(r *http.Request) (formID, token string) {
	formID = s.cfg.FormID
	token = s.cfg.FormToken
	if v := r.URL.Query().Get("form_id"); v != "" {
		formID = v
	}
	if v := r.Header.Get("X-Typeform-Form-Id"); v != "" {
		formID = v
	}
	if v := r.Header.Get("X-Typeform-Token"); v != "" {
		token = v
	}
	return formID, token
}

func (s *Server) sheetCredentials(r *http.Request) (sheetstore.Credentials, error) {
	creds := s.cfg.SheetCreds
	if v := r.Header.Get("X-Airtable-Token"); v != "" {
		creds.Token = v
	}
	if v := r.Header.Get("X-Airtable-Base"); v != "" {
		creds.BaseID = v
	}
	if v := r.Header.Get("X-Airtable-Table"); v != "" {
		creds.Table = v
	}
	if creds.Token == "" || creds.BaseID == "" || creds.Table == "" {
		return sheetstore.Credentials{}, errors.New("sheet credentials are incomplete")
	}
	return creds, nil
}

func (s *Server) writeFetchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, formsource.ErrMissingConfig):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), reqID(r))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error(), reqID(r))
	default:
		writeError(w, http.StatusBadGateway, "form_source_error", err.Error(), reqID(r))
	}
}
