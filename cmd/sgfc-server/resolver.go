package main

import (
	"context"

	"github.com/sgfc/sgfc/internal/domain/catalog"
	"github.com/sgfc/sgfc/internal/domain/waitlist"
)

// catalogLookup is the part of catalog.Service the waiting list reads.
type catalogLookup interface {
	PatientsByRecord(ctx context.Context, records []int64) (map[int64]*catalog.Patient, error)
	SpecialtyNames(ctx context.Context, codes []int64) (map[int64]string, error)
	ProcedureNames(ctx context.Context, codes []int64) (map[int64]string, error)
	PhysicianNames(ctx context.Context, registrations []int64) (map[int64]string, error)
}

// catalogResolver adapts the catalog service to waitlist.CatalogResolver,
// keeping the two domain packages independent of each other.
type catalogResolver struct {
	svc catalogLookup
}

func newCatalogResolver(svc catalogLookup) *catalogResolver {
	return &catalogResolver{svc: svc}
}

func (r *catalogResolver) Patients(ctx context.Context, records []int64) (map[int64]waitlist.PatientDisplay, error) {
	patients, err := r.svc.PatientsByRecord(ctx, records)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]waitlist.PatientDisplay, len(patients))
	for record, p := range patients {
		d := waitlist.PatientDisplay{Phone: p.Phone()}
		if p.Name != nil {
			d.Name = *p.Name
		}
		out[record] = d
	}
	return out, nil
}

func (r *catalogResolver) Specialties(ctx context.Context, ids []int64) (map[int64]string, error) {
	return r.svc.SpecialtyNames(ctx, ids)
}

func (r *catalogResolver) Procedures(ctx context.Context, ids []int64) (map[int64]string, error) {
	return r.svc.ProcedureNames(ctx, ids)
}

func (r *catalogResolver) Physicians(ctx context.Context, ids []int64) (map[int64]string, error) {
	return r.svc.PhysicianNames(ctx, ids)
}
