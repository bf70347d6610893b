package waitlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sgfc/sgfc/internal/platform/db"
)

// snapshotter opens the repeatable-read transaction a Snapshot runs in.
type snapshotter interface {
	WithinSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
}

// -- Entry Repository --

type entryRepoPG struct {
	pool db.Querier
	snap snapshotter
}

func NewEntryRepo(pool db.Querier, snap snapshotter) EntryRepository {
	return &entryRepoPG{pool: pool, snap: snap}
}

func (r *entryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const entryCols = `id, medical_record, specialty_id, procedure_id, physician_id, entry_date, priority,
	judicial_order, active, exit_reason, removed_at, situation, next_contact_date, notes,
	created_by, created_at, updated_by, updated_at`

// scanEntry decodes a row. Rows whose active flag and exit reason disagree
// come back with a nil Status so the queue builder can report them.
func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e         Entry
		entryDate *time.Time
		priority  *string
		active    bool
		reason    *string
		removedAt *time.Time
		situation *string
	)
	err := row.Scan(&e.ID, &e.MedicalRecord, &e.SpecialtyID, &e.ProcedureID, &e.PhysicianID,
		&entryDate, &priority, &e.JudicialOrder, &active, &reason, &removedAt, &situation,
		&e.NextContactDate, &e.Notes, &e.CreatedBy, &e.CreatedAt, &e.UpdatedBy, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if entryDate != nil {
		e.EntryDate = *entryDate
	}
	if priority != nil {
		e.Priority = Priority(*priority)
	}
	if situation != nil {
		e.Situation = Situation(*situation)
	}
	if st, err := StatusFromColumns(active, reason, removedAt); err == nil {
		e.Status = st
	}
	return &e, nil
}

func nullableSituation(s Situation) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}

// mapWriteError turns constraint violations into validation errors.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("%w: unknown catalog reference (%s)", ErrValidation, pgErr.ConstraintName)
		case "23514":
			return fmt.Errorf("%w: check %s failed", ErrValidation, pgErr.ConstraintName)
		}
	}
	return err
}

func (r *entryRepoPG) Create(ctx context.Context, e *Entry) error {
	active, reason, removedAt := StatusColumns(e.Status)
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO waitlist_entry (medical_record, specialty_id, procedure_id, physician_id, entry_date,
			priority, judicial_order, active, exit_reason, removed_at, situation, next_contact_date, notes,
			created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		e.MedicalRecord, e.SpecialtyID, e.ProcedureID, e.PhysicianID, e.EntryDate,
		string(e.Priority), e.JudicialOrder, active, reason, removedAt, nullableSituation(e.Situation),
		e.NextContactDate, e.Notes, e.CreatedBy, e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)
	return mapWriteError(err)
}

func (r *entryRepoPG) get(ctx context.Context, id int64, suffix string) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM waitlist_entry WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return e, err
}

func (r *entryRepoPG) GetByID(ctx context.Context, id int64) (*Entry, error) {
	return r.get(ctx, id, "")
}

func (r *entryRepoPG) GetForUpdate(ctx context.Context, id int64) (*Entry, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *entryRepoPG) Update(ctx context.Context, e *Entry) error {
	active, reason, removedAt := StatusColumns(e.Status)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE waitlist_entry SET physician_id = $2, entry_date = $3, priority = $4, judicial_order = $5,
			active = $6, exit_reason = $7, removed_at = $8, situation = $9, next_contact_date = $10,
			notes = $11, updated_by = $12, updated_at = $13
		WHERE id = $1`,
		e.ID, e.PhysicianID, e.EntryDate, string(e.Priority), e.JudicialOrder,
		active, reason, removedAt, nullableSituation(e.Situation), e.NextContactDate,
		e.Notes, e.UpdatedBy, e.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, e.ID)
	}
	return nil
}

func applyFilter(q *db.SelectQuery, f Filter) {
	if f.SpecialtyID != nil {
		q.Eq("specialty_id", *f.SpecialtyID)
	}
	if f.ProcedureID != nil {
		q.Eq("procedure_id", *f.ProcedureID)
	}
	if f.PhysicianID != nil {
		q.Eq("physician_id", *f.PhysicianID)
	}
	if f.MedicalRecord != nil {
		q.Eq("medical_record", *f.MedicalRecord)
	}
	if f.Priority != nil {
		q.Eq("priority", string(*f.Priority))
	}
	if f.JudicialOrder != nil {
		q.Eq("judicial_order", *f.JudicialOrder)
	}
	if f.Active != nil {
		q.Eq("active", *f.Active)
	}
	if f.From != nil {
		q.Gte("entry_date", *f.From)
	}
	if f.To != nil {
		q.Lte("entry_date", *f.To)
	}
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Snapshot reads the matching entries and the database clock inside one
// repeatable-read transaction.
func (r *entryRepoPG) Snapshot(ctx context.Context, f Filter) (*Snapshot, error) {
	q := db.NewSelectQuery("waitlist_entry", entryCols)
	applyFilter(q, f)
	q.OrderBy("id")

	snap := &Snapshot{}
	err := r.snap.WithinSnapshot(ctx, func(ctx context.Context) error {
		conn := r.conn(ctx)
		if err := conn.QueryRow(ctx, `SELECT now()`).Scan(&snap.AsOf); err != nil {
			return fmt.Errorf("read clock: %w", err)
		}
		rows, err := conn.Query(ctx, q.AllSQL(), q.Args()...)
		if err != nil {
			return err
		}
		snap.Entries, err = collectEntries(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *entryRepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	q := db.NewSelectQuery("waitlist_entry", entryCols)
	applyFilter(q, f)
	q.OrderBy("entry_date, id")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.PageSQL(), q.PageArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// -- Audit Repository --

type auditRepoPG struct {
	pool db.Querier
}

func NewAuditRepo(pool db.Querier) AuditRepository {
	return &auditRepoPG{pool: pool}
}

func (r *auditRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *auditRepoPG) Record(ctx context.Context, rec *AuditRecord) error {
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("encode audit changes: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO waitlist_audit (id, entry_id, action, actor, reason, changes, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.EntryID, string(rec.Action), rec.Actor, rec.Reason, changes, rec.RecordedAt,
	)
	return err
}

func (r *auditRepoPG) ListByEntry(ctx context.Context, entryID int64) ([]*AuditRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, entry_id, action, actor, reason, changes, recorded_at
		FROM waitlist_audit WHERE entry_id = $1
		ORDER BY recorded_at DESC, id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		var (
			rec     AuditRecord
			action  string
			changes []byte
		)
		if err := rows.Scan(&rec.ID, &rec.EntryID, &action, &rec.Actor, &rec.Reason, &changes, &rec.RecordedAt); err != nil {
			return nil, err
		}
		rec.Action = AuditAction(action)
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &rec.Changes); err != nil {
				return nil, fmt.Errorf("decode audit changes for %s: %w", rec.ID, err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
