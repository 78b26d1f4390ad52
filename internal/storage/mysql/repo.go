package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"staysync/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// Columns a dynamic booking update may touch. Anything else in the fields
// map is a programming error and fails before touching the database.
var updatableColumns = map[string]bool{
	"property_id":     true,
	"source":          true,
	"external_code":   true,
	"guest_name":      true,
	"start_date":      true,
	"end_date":        true,
	"external_status": true,
	"status":          true,
	"guest_email":     true,
	"guest_phone":     true,
	"earnings":        true,
}

// CreateBooking inserts the booking and its audit entries in one transaction.
func (r *Repo) CreateBooking(ctx context.Context, b *domain.Booking, audit []domain.AuditEntry) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, insertBookingSQL,
		b.PropertyID,
		b.Source,
		b.ExternalCode,
		b.GuestName,
		b.StartDate,
		b.EndDate,
		b.ExternalStatus,
		string(b.Status),
		valStr(b.GuestEmail),
		valStr(b.GuestPhone),
		valF64(b.Earnings),
	)
	if err != nil {
		return 0, fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, a := range audit {
		if a.BookingID == 0 {
			a.BookingID = id
		}
		if err := insertAudit(ctx, tx, a); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	b.ID = id
	return id, nil
}

// UpdateBooking applies a partial field update plus its audit entries in one
// transaction. Keys are sorted so the generated SQL is deterministic.
func (r *Repo) UpdateBooking(ctx context.Context, id int64, fields map[string]any, audit []domain.AuditEntry) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields))
	for c := range fields {
		if !updatableColumns[c] {
			return fmt.Errorf("column %q is not updatable", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		args = append(args, fields[c])
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := "UPDATE bookings SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update booking %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// The booking may have been deleted between detection and resolution.
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM bookings WHERE id = ?)", id).Scan(&exists); err == nil && !exists {
			return fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
		}
	}

	for _, a := range audit {
		if a.BookingID == 0 {
			a.BookingID = id
		}
		if err := insertAudit(ctx, tx, a); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertAudit(ctx context.Context, tx *sql.Tx, a domain.AuditEntry) error {
	_, err := tx.ExecContext(ctx, insertAuditSQL,
		a.BookingID, a.Field, a.OldValue, a.NewValue, a.Classification, a.Actor)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", a.Field, err)
	}
	return nil
}

func (r *Repo) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	row := r.db.QueryRowContext(ctx, getBookingSQL, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Repo) FindByScope(ctx context.Context, propertyID int64, source, code string) (*domain.Booking, error) {
	list, err := r.queryBookings(ctx, findByScopeSQL, propertyID, source, code)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, domain.ErrNotFound
	case 1:
		b := list[0]
		return &b, nil
	default:
		return nil, fmt.Errorf("scope (%d, %s, %s) matched %d bookings: %w",
			propertyID, source, code, len(list), domain.ErrAmbiguousBooking)
	}
}

func (r *Repo) FindBySourceCode(ctx context.Context, source, code string) ([]domain.Booking, error) {
	return r.queryBookings(ctx, findBySourceCodeSQL, source, code)
}

func (r *Repo) CodeInUse(ctx context.Context, propertyID int64, source, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, codeInUseSQL, propertyID, source, code).Scan(&exists)
	return exists, err
}

func (r *Repo) GetProperty(ctx context.Context, id int64) (*domain.Property, error) {
	var p domain.Property
	err := r.db.QueryRowContext(ctx, getPropertySQL, id).Scan(&p.ID, &p.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("property %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) FindPropertyByName(ctx context.Context, name string) (*domain.Property, error) {
	var p domain.Property
	err := r.db.QueryRowContext(ctx, findPropertyByNameSQL, name).Scan(&p.ID, &p.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("property %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) queryBookings(ctx context.Context, q string, args ...any) ([]domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	var status string
	var email, phone sql.NullString
	var earnings sql.NullFloat64

	err := row.Scan(
		&b.ID, &b.PropertyID, &b.Source, &b.ExternalCode, &b.GuestName,
		&b.StartDate, &b.EndDate, &b.ExternalStatus, &status,
		&email, &phone, &earnings, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	if email.Valid {
		b.GuestEmail = &email.String
	}
	if phone.Valid {
		b.GuestPhone = &phone.String
	}
	if earnings.Valid {
		b.Earnings = &earnings.Float64
	}
	return &b, nil
}

// ---- conflict store ----

func (r *Repo) SaveConflict(ctx context.Context, c domain.ConflictReport) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("marshal conflict payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, saveConflictSQL, c.BatchID, c.Index, c.Row, string(payload))
	return err
}

func (r *Repo) ListConflicts(ctx context.Context, batchID string) ([]domain.ConflictReport, error) {
	rows, err := r.db.QueryContext(ctx, listConflictsSQL, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ConflictReport
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *Repo) GetConflict(ctx context.Context, batchID string, index int) (*domain.ConflictReport, error) {
	c, err := scanConflict(r.db.QueryRowContext(ctx, getConflictSQL, batchID, index))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conflict (%s, %d): %w", batchID, index, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repo) MarkResolved(ctx context.Context, batchID string, index int, action domain.ResolutionAction) error {
	_, err := r.db.ExecContext(ctx, markResolvedSQL, string(action), batchID, index)
	return err
}

func scanConflict(row rowScanner) (*domain.ConflictReport, error) {
	var c domain.ConflictReport
	var payload []byte
	var action sql.NullString

	if err := row.Scan(&c.BatchID, &c.Index, &c.Row, &payload, &c.Resolved, &action); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &c.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal conflict payload: %w", err)
	}
	if action.Valid {
		c.Action = &action.String
	}
	return &c, nil
}
