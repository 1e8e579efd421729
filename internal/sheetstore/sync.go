package sheetstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsboard/leadsync/internal/lead"
)

// Spreadsheet column names. The sheet is the team-facing surface, so the
// columns keep their French labels.
const (
	ColResponseID    = "Response ID"
	ColName          = "Nom"
	ColEmail         = "Email"
	ColPhone         = "Téléphone"
	ColCompany       = "Entreprise"
	ColMessage       = "Message"
	ColRequesterType = "Type de demandeur"
	ColMotive        = "Motif"
	ColAddress       = "Adresse"
	ColAddressLine2  = "Complément d'adresse"
	ColCity          = "Ville"
	ColPostalCode    = "Code postal"
	ColStateRegion   = "Région"
	ColDepartment    = "Département"
	ColCountry       = "Pays"
	ColNetworkID     = "Réseau"
	ColSubmittedAt   = "Date de soumission"
	ColStatus        = "Statut"
	ColPriority      = "Priorité"
	ColNotes         = "Notes"
	ColAssignedTo    = "Assigné à"
	ColPartner       = "Partenaire"
)

// workflowColumns are owned by the people working the sheet. A routine push
// must never clobber them on rows that already exist.
var workflowColumns = []string{ColStatus, ColPriority, ColNotes, ColAssignedTo, ColPartner}

const defaultRowDelay = 200 * time.Millisecond

// RowResult records the outcome of one pushed row. For updated rows whose
// workflow columns were preserved, KeptStatus/KeptPriority report what the
// sheet holds, translated back to internal values.
type RowResult struct {
	ResponseID   string        `json:"typeform_response_id"`
	Action       string        `json:"action"`
	KeptStatus   lead.Status   `json:"kept_status,omitempty"`
	KeptPriority lead.Priority `json:"kept_priority,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Result tallies one push.
type Result struct {
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Errors  int         `json:"errors"`
	Details []RowResult `json:"details"`
}

// Message renders the tally as the one-line summary shown to operators.
func (r Result) Message() string {
	return fmt.Sprintf("Synchronisation terminée : %d créés, %d mis à jour, %d erreurs", r.Created, r.Updated, r.Errors)
}

// SyncerOptions configure a Syncer. The zero value uses production defaults.
type SyncerOptions struct {
	// Delay is the pause between row writes, keeping the push under the
	// API's per-second request ceiling.
	Delay            time.Duration
	CorrelationField string
	Logger           *zap.Logger
}

// Syncer mirrors leads into the spreadsheet, one row per form response,
// matched on the correlation column.
type Syncer struct {
	client           Client
	delay            time.Duration
	correlationField string
	logger           *zap.Logger
}

func NewSyncer(client Client, opts SyncerOptions) (*Syncer, error) {
	if client == nil {
		return nil, errors.New("sheetstore: client is required")
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultRowDelay
	}
	if opts.CorrelationField == "" {
		opts.CorrelationField = ColResponseID
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Syncer{
		client:           client,
		delay:            opts.Delay,
		correlationField: opts.CorrelationField,
		logger:           opts.Logger,
	}, nil
}

// Push writes every lead to the sheet. Existing rows are matched by the
// correlation column; their workflow columns are left alone unless
// overrideWorkflow is set. Row failures are tallied and do not stop the
// push; the returned error is reserved for failures before any row is
// attempted.
func (s *Syncer) Push(ctx context.Context, creds Credentials, leads []lead.Lead, overrideWorkflow bool) (Result, error) {
	existing, err := s.client.ListRecords(ctx, creds, "")
	if err != nil {
		return Result{}, fmt.Errorf("sheetstore: list records: %w", err)
	}

	byResponseID := make(map[string]Record, len(existing))
	for _, rec := range existing {
		if id := rec.Fields.Text(s.correlationField); id != "" {
			byResponseID[id] = rec
		}
	}

	result := Result{Details: make([]RowResult, 0, len(leads))}
	for i, l := range leads {
		if i > 0 {
			if err := sleepCtx(ctx, s.delay); err != nil {
				return result, err
			}
		}

		detail := RowResult{ResponseID: l.ResponseID}
		rec, found := byResponseID[l.ResponseID]
		if found {
			fields := s.rowFields(l)
			if !overrideWorkflow {
				fields = fields.Without(workflowColumns...)
				if label := rec.Fields.Text(ColStatus); label != "" {
					detail.KeptStatus = lead.StatusFromLabel(label)
				}
				if label := rec.Fields.Text(ColPriority); label != "" {
					detail.KeptPriority = lead.PriorityFromLabel(label)
				}
			}
			_, err = s.client.UpdateRecord(ctx, creds, rec.ID, fields)
			detail.Action = "updated"
		} else {
			_, err = s.client.CreateRecord(ctx, creds, s.rowFields(l))
			detail.Action = "created"
		}

		if err != nil {
			detail.Action = "error"
			detail.Error = rowErrorMessage(err)
			result.Errors++
			s.logger.Warn("sheet row push failed",
				zap.String("response_id", l.ResponseID),
				zap.Error(err))
		} else if found {
			result.Updated++
		} else {
			result.Created++
		}
		result.Details = append(result.Details, detail)
	}

	s.logger.Info("sheet push finished",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("errors", result.Errors))
	return result, nil
}

// PushWorkflow mirrors one lead's workflow columns onto its sheet row,
// creating the row when none matches.
func (s *Syncer) PushWorkflow(ctx context.Context, creds Credentials, l lead.Lead) error {
	formula := fmt.Sprintf("{%s} = %q", s.correlationField, l.ResponseID)
	matches, err := s.client.ListRecords(ctx, creds, formula)
	if err != nil {
		return fmt.Errorf("sheetstore: find row: %w", err)
	}
	if len(matches) == 0 {
		_, err = s.client.CreateRecord(ctx, creds, s.rowFields(l))
		return err
	}

	fields := Fields{}
	fields = fields.Set(ColStatus, StringValue(lead.StatusLabel(l.Status)))
	fields = fields.Set(ColPriority, StringValue(lead.PriorityLabel(l.Priority)))
	fields = fields.Set(ColNotes, StringValue(l.Notes))
	fields = fields.Set(ColAssignedTo, StringValue(l.AssignedTo))
	if l.Partner != "" {
		fields = fields.Set(ColPartner, StringValue(l.Partner))
	}
	_, err = s.client.UpdateRecord(ctx, creds, matches[0].ID, fields)
	return err
}

// rowFields lays a lead out in sheet column order, workflow columns last.
func (s *Syncer) rowFields(l lead.Lead) Fields {
	fields := Fields{{Name: s.correlationField, Value: StringValue(l.ResponseID)}}
	set := func(name, value string) {
		if value != "" {
			fields = append(fields, Field{Name: name, Value: StringValue(value)})
		}
	}
	set(ColName, l.Name)
	set(ColEmail, l.Email)
	set(ColPhone, l.Phone)
	set(ColCompany, l.Company)
	set(ColMessage, l.Message)
	set(ColRequesterType, l.RequesterType)
	set(ColMotive, l.Motive)
	set(ColAddress, l.Address)
	set(ColAddressLine2, l.AddressLine2)
	set(ColCity, l.City)
	set(ColPostalCode, l.PostalCode)
	set(ColStateRegion, l.StateRegion)
	set(ColDepartment, l.Department)
	set(ColCountry, l.Country)
	set(ColNetworkID, l.NetworkID)
	if !l.SubmittedAt.IsZero() {
		set(ColSubmittedAt, l.SubmittedAt.UTC().Format(time.RFC3339))
	}

	status := l.Status
	if status == "" {
		status = lead.DefaultStatus
	}
	priority := l.Priority
	if priority == "" {
		priority = lead.DefaultPriority
	}
	fields = append(fields,
		Field{Name: ColStatus, Value: StringValue(lead.StatusLabel(status))},
		Field{Name: ColPriority, Value: StringValue(lead.PriorityLabel(priority))},
	)
	set(ColNotes, l.Notes)
	set(ColAssignedTo, l.AssignedTo)
	set(ColPartner, l.Partner)
	return fields
}

func rowErrorMessage(err error) string {
	var unknown *UnknownOptionError
	if errors.As(err, &unknown) {
		if unknown.Option != "" {
			return fmt.Sprintf("valeur %q refusée par la colonne à choix", unknown.Option)
		}
		return "valeur refusée par la colonne à choix"
	}
	return strings.TrimSpace(err.Error())
}
