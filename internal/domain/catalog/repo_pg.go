package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sgfc/sgfc/internal/platform/db"
)

type repoPG struct {
	pool db.Querier
}

func NewRepo(pool db.Querier) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const (
	patientCols   = `medical_record, name, home_area_code, home_phone, message_area_code, message_phone`
	specialtyCols = `code, name`
	procedureCols = `code, name, specialty_code`
	physicianCols = `registration_number, name, responsible_id`
)

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.MedicalRecord, &p.Name, &p.HomeAreaCode, &p.HomePhone, &p.MessageAreaCode, &p.MessagePhone); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSpecialty(row pgx.Row) (*Specialty, error) {
	var s Specialty
	if err := row.Scan(&s.Code, &s.Name); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanProcedure(row pgx.Row) (*Procedure, error) {
	var p Procedure
	if err := row.Scan(&p.Code, &p.Name, &p.SpecialtyCode); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPhysician(row pgx.Row) (*Physician, error) {
	var p Physician
	if err := row.Scan(&p.RegistrationNumber, &p.Name, &p.ResponsibleID); err != nil {
		return nil, err
	}
	return &p, nil
}

// getOne runs a single-row query and maps pgx.ErrNoRows to ErrNotFound.
func getOne[T any](ctx context.Context, q db.Querier, scan func(pgx.Row) (*T, error), sql string, key int64) (*T, error) {
	v, err := scan(q.QueryRow(ctx, sql, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, key)
	}
	return v, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func page[T any](ctx context.Context, q db.Querier, sq *db.SelectQuery, scan func(pgx.Row) (*T, error), limit, offset int) ([]*T, int, error) {
	var total int
	if err := q.QueryRow(ctx, sq.CountSQL(), sq.Args()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, sq.PageSQL(), sq.PageArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows, scan)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func batch[T any](ctx context.Context, q db.Querier, table, cols, key string, ids []int64, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sq := db.NewSelectQuery(table, cols)
	sq.In(key, ids)
	rows, err := q.Query(ctx, sq.AllSQL(), sq.Args()...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scan)
}

// -- Patients --

func (r *repoPG) SearchPatients(ctx context.Context, q PatientQuery, limit, offset int) ([]*Patient, int, error) {
	sq := db.NewSelectQuery("patient", patientCols)
	if q.MedicalRecord != nil {
		sq.Eq("medical_record", *q.MedicalRecord)
	}
	if q.Name != "" {
		sq.Prefix("name", q.Name)
	}
	sq.OrderBy("name, medical_record")
	return page(ctx, r.conn(ctx), sq, scanPatient, limit, offset)
}

func (r *repoPG) GetPatient(ctx context.Context, medicalRecord int64) (*Patient, error) {
	return getOne(ctx, r.conn(ctx), scanPatient, `SELECT `+patientCols+` FROM patient WHERE medical_record = $1`, medicalRecord)
}

func (r *repoPG) PatientsByRecord(ctx context.Context, records []int64) ([]*Patient, error) {
	return batch(ctx, r.conn(ctx), "patient", patientCols, "medical_record", records, scanPatient)
}

// -- Specialties --

func (r *repoPG) ListSpecialties(ctx context.Context, name string, limit, offset int) ([]*Specialty, int, error) {
	sq := db.NewSelectQuery("specialty", specialtyCols)
	if name != "" {
		sq.Prefix("name", name)
	}
	sq.OrderBy("name, code")
	return page(ctx, r.conn(ctx), sq, scanSpecialty, limit, offset)
}

func (r *repoPG) GetSpecialty(ctx context.Context, code int64) (*Specialty, error) {
	return getOne(ctx, r.conn(ctx), scanSpecialty, `SELECT `+specialtyCols+` FROM specialty WHERE code = $1`, code)
}

func (r *repoPG) SpecialtiesByCode(ctx context.Context, codes []int64) ([]*Specialty, error) {
	return batch(ctx, r.conn(ctx), "specialty", specialtyCols, "code", codes, scanSpecialty)
}

// -- Procedures --

func (r *repoPG) ListProcedures(ctx context.Context, q ProcedureQuery, limit, offset int) ([]*Procedure, int, error) {
	sq := db.NewSelectQuery("procedure", procedureCols)
	if q.SpecialtyCode != nil {
		sq.Eq("specialty_code", *q.SpecialtyCode)
	}
	if q.Name != "" {
		sq.Prefix("name", q.Name)
	}
	sq.OrderBy("name, code")
	return page(ctx, r.conn(ctx), sq, scanProcedure, limit, offset)
}

func (r *repoPG) GetProcedure(ctx context.Context, code int64) (*Procedure, error) {
	return getOne(ctx, r.conn(ctx), scanProcedure, `SELECT `+procedureCols+` FROM procedure WHERE code = $1`, code)
}

func (r *repoPG) ProceduresByCode(ctx context.Context, codes []int64) ([]*Procedure, error) {
	return batch(ctx, r.conn(ctx), "procedure", procedureCols, "code", codes, scanProcedure)
}

// -- Physicians --

func (r *repoPG) ListPhysicians(ctx context.Context, name string, limit, offset int) ([]*Physician, int, error) {
	sq := db.NewSelectQuery("physician", physicianCols)
	if name != "" {
		sq.Prefix("name", name)
	}
	sq.OrderBy("name, registration_number")
	return page(ctx, r.conn(ctx), sq, scanPhysician, limit, offset)
}

func (r *repoPG) GetPhysician(ctx context.Context, registration int64) (*Physician, error) {
	return getOne(ctx, r.conn(ctx), scanPhysician, `SELECT `+physicianCols+` FROM physician WHERE registration_number = $1`, registration)
}

func (r *repoPG) PhysiciansByRegistration(ctx context.Context, registrations []int64) ([]*Physician, error) {
	return batch(ctx, r.conn(ctx), "physician", physicianCols, "registration_number", registrations, scanPhysician)
}
