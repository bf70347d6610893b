// Package catalog serves the hospital's read-only reference tables:
// patients, specialties, procedures and physicians.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("catalog record not found")

// Patient is a row of the hospital patient registry, keyed by medical record.
type Patient struct {
	MedicalRecord   int64   `json:"medical_record"`
	Name            *string `json:"name,omitempty"`
	HomeAreaCode    *string `json:"-"`
	HomePhone       *string `json:"-"`
	MessageAreaCode *string `json:"-"`
	MessagePhone    *string `json:"-"`
}

// Phone returns the home number, falling back to the message number, as
// "(DDD) NUMBER". Empty when neither is complete.
func (p *Patient) Phone() string {
	if s := formatPhone(p.HomeAreaCode, p.HomePhone); s != "" {
		return s
	}
	return formatPhone(p.MessageAreaCode, p.MessagePhone)
}

func formatPhone(area, number *string) string {
	if area == nil || number == nil {
		return ""
	}
	a, n := strings.TrimSpace(*area), strings.TrimSpace(*number)
	if a == "" || n == "" {
		return ""
	}
	return fmt.Sprintf("(%s) %s", a, n)
}

type Specialty struct {
	Code int64   `json:"code"`
	Name *string `json:"name,omitempty"`
}

type Procedure struct {
	Code          int64   `json:"code"`
	Name          *string `json:"name,omitempty"`
	SpecialtyCode *int64  `json:"specialty_code,omitempty"`
}

type Physician struct {
	RegistrationNumber int64   `json:"registration_number"`
	Name               *string `json:"name,omitempty"`
	ResponsibleID      *int64  `json:"responsible_id,omitempty"`
}

// PatientQuery narrows a patient search. Name is a case-insensitive prefix.
type PatientQuery struct {
	Name          string
	MedicalRecord *int64
}

type ProcedureQuery struct {
	Name          string
	SpecialtyCode *int64
}
