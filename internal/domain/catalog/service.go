package catalog

import (
	"context"
	"fmt"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// -- Patients --

func (s *Service) SearchPatients(ctx context.Context, q PatientQuery, limit, offset int) ([]*Patient, int, error) {
	if q.MedicalRecord != nil && *q.MedicalRecord <= 0 {
		return nil, 0, fmt.Errorf("medical_record must be positive")
	}
	return s.repo.SearchPatients(ctx, q, limit, offset)
}

func (s *Service) GetPatient(ctx context.Context, medicalRecord int64) (*Patient, error) {
	return s.repo.GetPatient(ctx, medicalRecord)
}

// PatientsByRecord returns the patients found among records, keyed by
// medical record. Unknown records are absent from the map.
func (s *Service) PatientsByRecord(ctx context.Context, records []int64) (map[int64]*Patient, error) {
	items, err := s.repo.PatientsByRecord(ctx, dedupe(records))
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	out := make(map[int64]*Patient, len(items))
	for _, p := range items {
		out[p.MedicalRecord] = p
	}
	return out, nil
}

// -- Specialties --

func (s *Service) ListSpecialties(ctx context.Context, name string, limit, offset int) ([]*Specialty, int, error) {
	return s.repo.ListSpecialties(ctx, name, limit, offset)
}

func (s *Service) GetSpecialty(ctx context.Context, code int64) (*Specialty, error) {
	return s.repo.GetSpecialty(ctx, code)
}

func (s *Service) SpecialtyNames(ctx context.Context, codes []int64) (map[int64]string, error) {
	items, err := s.repo.SpecialtiesByCode(ctx, dedupe(codes))
	if err != nil {
		return nil, fmt.Errorf("load specialties: %w", err)
	}
	out := make(map[int64]string, len(items))
	for _, sp := range items {
		if sp.Name != nil {
			out[sp.Code] = *sp.Name
		}
	}
	return out, nil
}

// -- Procedures --

func (s *Service) ListProcedures(ctx context.Context, q ProcedureQuery, limit, offset int) ([]*Procedure, int, error) {
	return s.repo.ListProcedures(ctx, q, limit, offset)
}

func (s *Service) GetProcedure(ctx context.Context, code int64) (*Procedure, error) {
	return s.repo.GetProcedure(ctx, code)
}

func (s *Service) ProcedureNames(ctx context.Context, codes []int64) (map[int64]string, error) {
	items, err := s.repo.ProceduresByCode(ctx, dedupe(codes))
	if err != nil {
		return nil, fmt.Errorf("load procedures: %w", err)
	}
	out := make(map[int64]string, len(items))
	for _, p := range items {
		if p.Name != nil {
			out[p.Code] = *p.Name
		}
	}
	return out, nil
}

// -- Physicians --

func (s *Service) ListPhysicians(ctx context.Context, name string, limit, offset int) ([]*Physician, int, error) {
	return s.repo.ListPhysicians(ctx, name, limit, offset)
}

func (s *Service) GetPhysician(ctx context.Context, registration int64) (*Physician, error) {
	return s.repo.GetPhysician(ctx, registration)
}

func (s *Service) PhysicianNames(ctx context.Context, registrations []int64) (map[int64]string, error) {
	items, err := s.repo.PhysiciansByRegistration(ctx, dedupe(registrations))
	if err != nil {
		return nil, fmt.Errorf("load physicians: %w", err)
	}
	out := make(map[int64]string, len(items))
	for _, p := range items {
		if p.Name != nil {
			out[p.RegistrationNumber] = *p.Name
		}
	}
	return out, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
