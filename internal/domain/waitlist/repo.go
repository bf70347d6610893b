package waitlist

import (
	"context"
	"time"
)

type EntryRepository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id int64) (*Entry, error)
	// GetForUpdate reads an entry and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	// Snapshot reads every entry matching f at one logical time and reports
	// that time in Snapshot.AsOf.
	Snapshot(ctx context.Context, f Filter) (*Snapshot, error)
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}

type AuditRepository interface {
	Record(ctx context.Context, rec *AuditRecord) error
	ListByEntry(ctx context.Context, entryID int64) ([]*AuditRecord, error)
}

// Transactor runs fn inside a transaction carried by the context it passes.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PatientDisplay is the catalog data shown for a patient.
type PatientDisplay struct {
	Name  string
	Phone string
}

// CatalogResolver looks up display data in the read-only catalogs. Missing
// ids are simply absent from the returned maps.
type CatalogResolver interface {
	Patients(ctx context.Context, medicalRecords []int64) (map[int64]PatientDisplay, error)
	Specialties(ctx context.Context, ids []int64) (map[int64]string, error)
	Procedures(ctx context.Context, ids []int64) (map[int64]string, error)
	Physicians(ctx context.Context, ids []int64) (map[int64]string, error)
}

// QueueObserver receives one observation per built queue.
type QueueObserver interface {
	ObserveQueue(active int, issueKinds []string, took time.Duration)
}
