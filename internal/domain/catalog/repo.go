package catalog

import "context"

// Repository reads the catalog tables. Get* methods return ErrNotFound for
// unknown keys; the *By* batch methods simply omit them.
type Repository interface {
	SearchPatients(ctx context.Context, q PatientQuery, limit, offset int) ([]*Patient, int, error)
	GetPatient(ctx context.Context, medicalRecord int64) (*Patient, error)
	PatientsByRecord(ctx context.Context, records []int64) ([]*Patient, error)

	ListSpecialties(ctx context.Context, name string, limit, offset int) ([]*Specialty, int, error)
	GetSpecialty(ctx context.Context, code int64) (*Specialty, error)
	SpecialtiesByCode(ctx context.Context, codes []int64) ([]*Specialty, error)

	ListProcedures(ctx context.Context, q ProcedureQuery, limit, offset int) ([]*Procedure, int, error)
	GetProcedure(ctx context.Context, code int64) (*Procedure, error)
	ProceduresByCode(ctx context.Context, codes []int64) ([]*Procedure, error)

	ListPhysicians(ctx context.Context, name string, limit, offset int) ([]*Physician, int, error)
	GetPhysician(ctx context.Context, registration int64) (*Physician, error)
	PhysiciansByRegistration(ctx context.Context, registrations []int64) ([]*Physician, error)
}
