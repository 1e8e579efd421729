package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/opsboard/leadsync/internal/lead"
)

const (
	metadataTable      = "typeform_metadata"
	leadsTable         = "typeform_responses"
	collaboratorsTable = "collaborators"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore lazily opens its connection and runs the embedded
// migrations on first use, in the spirit of CREATE-on-demand backends.
type PostgresStore struct {
	dsn     string
	openDB  sqlOpenFunc
	migrate func(*sql.DB) error

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is empty", ErrInvalidInput)
	}
	return &PostgresStore{
		dsn:     dsn,
		openDB:  sql.Open,
		migrate: Migrate,
	}, nil
}

// newPostgresStoreWithDB wires an already-open connection and skips
// migrations. Test seam.
func newPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	s := &PostgresStore{db: db}
	s.initOnce.Do(func() {})
	return s
}

func (s *PostgresStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		if err := s.migrate(db); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) UpsertMetadata(ctx context.Context, responseID string, patch MetadataPatch) (lead.Metadata, error) {
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
	if err := s.ensureReady(); err != nil {
		return lead.Metadata{}, err
	}

	existing, found, err := s.GetMetadata(ctx, responseID)
	if err != nil {
		return lead.Metadata{}, err
	}
	if found {
		return s.updateMetadata(ctx, existing, patch)
	}

	inserted, err := s.insertMetadata(ctx, responseID, patch)
	if err == nil {
		return inserted, nil
	}
	// Two concurrent upserts can both miss the read-check; the loser's
	// insert hits the primary key. Treat it as an update, not a failure.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		existing, found, getErr := s.GetMetadata(ctx, responseID)
		if getErr != nil {
			return lead.Metadata{}, getErr
		}
		if found {
			return s.updateMetadata(ctx, existing, patch)
		}
	}
	return lead.Metadata{}, err
}

func (s *PostgresStore) insertMetadata(ctx context.Context, responseID string, patch MetadataPatch) (lead.Metadata, error) {
	m := lead.Metadata{
		ResponseID: responseID,
		Status:     lead.DefaultStatus,
		Priority:   lead.DefaultPriority,
	}
	applyPatch(&m, patch)

	query := fmt.Sprintf(`
		INSERT INTO %s (typeform_response_id, status, priority, notes, assigned_to, partner)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`, quoteIdentifier(metadataTable))
	err := s.db.QueryRowContext(ctx, query,
		m.ResponseID, string(m.Status), string(m.Priority),
		nullString(m.Notes), nullString(m.AssignedTo), nullString(m.Partner),
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return lead.Metadata{}, err
	}
	return m, nil
}

func (s *PostgresStore) updateMetadata(ctx context.Context, existing lead.Metadata, patch MetadataPatch) (lead.Metadata, error) {
	m := existing
	applyPatch(&m, patch)
	m.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, priority = $3, notes = $4, assigned_to = $5, partner = $6, updated_at = NOW()
		WHERE typeform_response_id = $1
		RETURNING updated_at`, quoteIdentifier(metadataTable))
	err := s.db.QueryRowContext(ctx, query,
		m.ResponseID, string(m.Status), string(m.Priority),
		nullString(m.Notes), nullString(m.AssignedTo), nullString(m.Partner),
	).Scan(&m.UpdatedAt)
	if err != nil {
		return lead.Metadata{}, err
	}
	return m, nil
}

func (s *PostgresStore) GetMetadata(ctx context.Context, responseID string) (lead.Metadata, bool, error) {
	if err := s.ensureReady(); err != nil {
		return lead.Metadata{}, false, err
	}
	query := fmt.Sprintf(`
		SELECT typeform_response_id, status, priority, notes, assigned_to, partner, created_at, updated_at
		FROM %s WHERE typeform_response_id = $1`, quoteIdentifier(metadataTable))
	m, err := scanMetadata(s.db.QueryRowContext(ctx, query, responseID))
	if errors.Is(err, sql.ErrNoRows) {
		return lead.Metadata{}, false, nil
	}
	if err != nil {
		return lead.Metadata{}, false, err
	}
	return m, true, nil
}

func (s *PostgresStore) ListMetadata(ctx context.Context) ([]lead.Metadata, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT typeform_response_id, status, priority, notes, assigned_to, partner, created_at, updated_at
		FROM %s`, quoteIdentifier(metadataTable))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []lead.Metadata
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpsertLead(ctx context.Context, l lead.Lead, overwriteWorkflow bool) (bool, error) {
	if strings.TrimSpace(l.ResponseID) == "" {
		return false, fmt.Errorf("%w: lead response id is required", ErrInvalidInput)
	}
	if err := s.ensureReady(); err != nil {
		return false, err
	}

	selectQuery := fmt.Sprintf(`
		SELECT status, priority, notes, assigned_to, partner
		FROM %s WHERE response_id = $1`, quoteIdentifier(leadsTable))
	var status, priority string
	var notes, assignedTo, partner sql.NullString
	err := s.db.QueryRowContext(ctx, selectQuery, l.ResponseID).Scan(&status, &priority, &notes, &assignedTo, &partner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return true, s.insertLead(ctx, l)
	case err != nil:
		return false, err
	}

	if !overwriteWorkflow {
		l.Status = lead.MigrateLegacyStatus(lead.Status(status))
		l.Priority = lead.Priority(priority)
		l.Notes = notes.String
		l.AssignedTo = assignedTo.String
		l.Partner = partner.String
	}
	updateQuery := fmt.Sprintf(`
		UPDATE %s SET
			form_id = $2, submitted_at = $3, name = $4, first_name = $5, last_name = $6,
			email = $7, phone = $8, company = $9, message = $10, requester_type = $11,
			motif = $12, address = $13, address_line2 = $14, city = $15, postal_code = $16,
			state_region = $17, department = $18, country = $19, network_id = $20,
			status = $21, priority = $22, notes = $23, assigned_to = $24, partner = $25,
			raw_data = $26, updated_at = NOW()
		WHERE response_id = $1`, quoteIdentifier(leadsTable))
	_, err = s.db.ExecContext(ctx, updateQuery, leadArgs(l)...)
	return false, err
}

func (s *PostgresStore) insertLead(ctx context.Context, l lead.Lead) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			response_id, form_id, submitted_at, name, first_name, last_name,
			email, phone, company, message, requester_type, motif,
			address, address_line2, city, postal_code, state_region, department,
			country, network_id, status, priority, notes, assigned_to, partner, raw_data
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)`, quoteIdentifier(leadsTable))
	_, err := s.db.ExecContext(ctx, query, leadArgs(l)...)
	return err
}

func leadArgs(l lead.Lead) []any {
	var raw any
	if len(l.RawData) > 0 {
		raw = string(l.RawData)
	}
	return []any{
		l.ResponseID, nullString(l.FormID), l.SubmittedAt, nullString(l.Name),
		nullString(l.FirstName), nullString(l.LastName), nullString(l.Email),
		nullString(l.Phone), nullString(l.Company), nullString(l.Message),
		nullString(l.RequesterType), nullString(l.Motive), nullString(l.Address),
		nullString(l.AddressLine2), nullString(l.City), nullString(l.PostalCode),
		nullString(l.StateRegion), nullString(l.Department), nullString(l.Country),
		nullString(l.NetworkID), string(l.Status), string(l.Priority),
		nullString(l.Notes), nullString(l.AssignedTo), nullString(l.Partner), raw,
	}
}

func (s *PostgresStore) ListLeads(ctx context.Context) ([]lead.Lead, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT response_id, form_id, submitted_at, name, first_name, last_name,
			email, phone, company, message, requester_type, motif,
			address, address_line2, city, postal_code, state_region, department,
			country, network_id, status, priority, notes, assigned_to, partner, raw_data
		FROM %s ORDER BY submitted_at DESC`, quoteIdentifier(leadsTable))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []lead.Lead
	for rows.Next() {
		var l lead.Lead
		var formID, name, firstName, lastName, email, phone, company, message sql.NullString
		var requesterType, motive, address, addressLine2, city, postalCode sql.NullString
		var stateRegion, department, country, networkID, notes, assignedTo, partner sql.NullString
		var status, priority string
		var raw sql.NullString
		err := rows.Scan(
			&l.ResponseID, &formID, &l.SubmittedAt, &name, &firstName, &lastName,
			&email, &phone, &company, &message, &requesterType, &motive,
			&address, &addressLine2, &city, &postalCode, &stateRegion, &department,
			&country, &networkID, &status, &priority, &notes, &assignedTo, &partner, &raw,
		)
		if err != nil {
			return nil, err
		}
		l.FormID = formID.String
		l.Name = name.String
		l.FirstName = firstName.String
		l.LastName = lastName.String
		l.Email = email.String
		l.Phone = phone.String
		l.Company = company.String
		l.Message = message.String
		l.RequesterType = requesterType.String
		l.Motive = motive.String
		l.Address = address.String
		l.AddressLine2 = addressLine2.String
		l.City = city.String
		l.PostalCode = postalCode.String
		l.StateRegion = stateRegion.String
		l.Department = department.String
		l.Country = country.String
		l.NetworkID = networkID.String
		l.Status = lead.MigrateLegacyStatus(lead.Status(status))
		l.Priority = lead.Priority(priority)
		l.Notes = notes.String
		l.AssignedTo = assignedTo.String
		l.Partner = partner.String
		if raw.Valid {
			l.RawData = []byte(raw.String)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func (s *PostgresStore) ListCollaborators(ctx context.Context) ([]lead.Collaborator, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, name, active, created_at, updated_at
		FROM %s WHERE active = TRUE ORDER BY name ASC`, quoteIdentifier(collaboratorsTable))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []lead.Collaborator
	for rows.Next() {
		var c lead.Collaborator
		if err := rows.Scan(&c.ID, &c.Name, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (lead.Metadata, error) {
	var m lead.Metadata
	var status, priority string
	var notes, assignedTo, partner sql.NullString
	if err := row.Scan(&m.ResponseID, &status, &priority, &notes, &assignedTo, &partner, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return lead.Metadata{}, err
	}
	// Rows restored from pre-migration dumps can still carry the retired
	// vocabulary.
	m.Status = lead.MigrateLegacyStatus(lead.Status(status))
	m.Priority = lead.Priority(priority)
	m.Notes = notes.String
	m.AssignedTo = assignedTo.String
	m.Partner = partner.String
	return m, nil
}

func applyPatch(m *lead.Metadata, patch MetadataPatch) {
	if patch.Status != nil {
		m.Status = *patch.Status
	}
	if patch.Priority != nil {
		m.Priority = *patch.Priority
	}
	if patch.Notes != nil {
		m.Notes = *patch.Notes
	}
	if patch.AssignedTo != nil {
		m.AssignedTo = *patch.AssignedTo
	}
	if patch.Partner != nil {
		m.Partner = *patch.Partner
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
