package waitlist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sgfc/sgfc/internal/platform/events"
)

// -- Mock repositories --

type mockEntryRepo struct {
	entries map[int64]*Entry
	nextID  int64
	asOf    time.Time
	err     error
}

func newMockEntryRepo() *mockEntryRepo {
	return &mockEntryRepo{entries: make(map[int64]*Entry), nextID: 1}
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	return &cp
}

func (m *mockEntryRepo) Create(_ context.Context, e *Entry) error {
	if m.err != nil {
		return m.err
	}
	e.ID = m.nextID
	m.nextID++
	m.entries[e.ID] = copyEntry(e)
	return nil
}

func (m *mockEntryRepo) GetByID(_ context.Context, id int64) (*Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *mockEntryRepo) GetForUpdate(ctx context.Context, id int64) (*Entry, error) {
	return m.GetByID(ctx, id)
}

func (m *mockEntryRepo) Update(_ context.Context, e *Entry) error {
	if _, ok := m.entries[e.ID]; !ok {
		return ErrNotFound
	}
	m.entries[e.ID] = copyEntry(e)
	return nil
}

func matches(f Filter, e *Entry) bool {
	switch {
	case f.SpecialtyID != nil && e.SpecialtyID != *f.SpecialtyID,
		f.ProcedureID != nil && e.ProcedureID != *f.ProcedureID,
		f.MedicalRecord != nil && e.MedicalRecord != *f.MedicalRecord,
		f.Priority != nil && e.Priority != *f.Priority,
		f.JudicialOrder != nil && e.JudicialOrder != *f.JudicialOrder,
		f.Active != nil && e.Active() != *f.Active,
		f.PhysicianID != nil && (e.PhysicianID == nil || *e.PhysicianID != *f.PhysicianID),
		f.From != nil && e.EntryDate.Before(*f.From),
		f.To != nil && e.EntryDate.After(*f.To):
		return false
	}
	return true
}

func (m *mockEntryRepo) filtered(f Filter) []*Entry {
	var out []*Entry
	for _, e := range m.entries {
		if matches(f, e) {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockEntryRepo) Snapshot(_ context.Context, f Filter) (*Snapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &Snapshot{Entries: m.filtered(f), AsOf: m.asOf}, nil
}

func (m *mockEntryRepo) Search(_ context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	all := m.filtered(f)
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

type mockAuditRepo struct {
	records []*AuditRecord
	err     error
}

func (m *mockAuditRepo) Record(_ context.Context, rec *AuditRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockAuditRepo) ListByEntry(_ context.Context, entryID int64) ([]*AuditRecord, error) {
	var out []*AuditRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].EntryID == entryID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// mockTx restores the entry map when fn fails, like a rollback would.
type mockTx struct {
	entries *mockEntryRepo
	audits  *mockAuditRepo
	calls   int
}

func (m *mockTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	saved := make(map[int64]*Entry, len(m.entries.entries))
	for k, v := range m.entries.entries {
		saved[k] = v
	}
	nextID, nAudits := m.entries.nextID, len(m.audits.records)
	if err := fn(ctx); err != nil {
		m.entries.entries, m.entries.nextID = saved, nextID
		m.audits.records = m.audits.records[:nAudits]
		return err
	}
	return nil
}

type mockCatalogs struct {
	mu          sync.Mutex
	patients    map[int64]PatientDisplay
	specialties map[int64]string
	procedures  map[int64]string
	physicians  map[int64]string
	calls       int
	err         error
}

func pick[V any](src map[int64]V, ids []int64) map[int64]V {
	out := make(map[int64]V, len(ids))
	for _, id := range ids {
		if v, ok := src[id]; ok {
			out[id] = v
		}
	}
	return out
}

func (m *mockCatalogs) count() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func (m *mockCatalogs) Patients(_ context.Context, ids []int64) (map[int64]PatientDisplay, error) {
	m.count()
	if m.err != nil {
		return nil, m.err
	}
	return pick(m.patients, ids), nil
}

func (m *mockCatalogs) Specialties(_ context.Context, ids []int64) (map[int64]string, error) {
	m.count()
	return pick(m.specialties, ids), nil
}

func (m *mockCatalogs) Procedures(_ context.Context, ids []int64) (map[int64]string, error) {
	m.count()
	return pick(m.procedures, ids), nil
}

func (m *mockCatalogs) Physicians(_ context.Context, ids []int64) (map[int64]string, error) {
	m.count()
	return pick(m.physicians, ids), nil
}

type mockPublisher struct {
	events []events.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, evt events.Event) error {
	m.events = append(m.events, evt)
	return m.err
}

func (m *mockPublisher) Close() error { return nil }

type mockObserver struct {
	active int
	kinds  []string
	calls  int
}

func (m *mockObserver) ObserveQueue(active int, kinds []string, _ time.Duration) {
	m.active, m.kinds = active, kinds
	m.calls++
}

// -- Fixture --

type fixture struct {
	svc      *Service
	entries  *mockEntryRepo
	audits   *mockAuditRepo
	tx       *mockTx
	catalogs *mockCatalogs
	pub      *mockPublisher
	observer *mockObserver
}

func newFixture() *fixture {
	entries := newMockEntryRepo()
	entries.asOf = refNow
	audits := &mockAuditRepo{}
	f := &fixture{
		entries: entries,
		audits:  audits,
		tx:      &mockTx{entries: entries, audits: audits},
		catalogs: &mockCatalogs{
			patients: map[int64]PatientDisplay{
				1001: {Name: "Maria Silva Santos", Phone: "(48) 33334444"},
				1002: {Name: "José Pereira"},
			},
			specialties: map[int64]string{1: "Orthopedics"},
			procedures:  map[int64]string{10: "Knee arthroplasty"},
			physicians:  map[int64]string{500: "Dr. Costa"},
		},
		pub:      &mockPublisher{},
		observer: &mockObserver{},
	}
	f.svc = NewService(f.entries, f.audits, f.tx, f.catalogs, f.pub, zerolog.Nop(),
		WithObserver(f.observer),
		WithClock(func() time.Time { return refNow }),
	)
	return f
}

// seed stores e directly, bypassing Register.
func (f *fixture) seed(e *Entry) *Entry {
	f.entries.entries[e.ID] = copyEntry(e)
	if e.ID >= f.entries.nextID {
		f.entries.nextID = e.ID + 1
	}
	return e
}

func i64(v int64) *int64 { return &v }

// -- Register --

func TestService_Register(t *testing.T) {
	f := newFixture()
	e := &Entry{MedicalRecord: 1001, SpecialtyID: 1, ProcedureID: 10, Priority: PriorityOncologic}

	if err := f.svc.Register(context.Background(), e, "nurse-1", "referral"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID == 0 || !e.Active() {
		t.Fatalf("expected stored active entry, got %+v", e)
	}
	if !e.EntryDate.Equal(date(2024, time.June, 15)) {
		t.Errorf("entry date should default to today, got %v", e.EntryDate)
	}
	if e.CreatedBy != "nurse-1" || !e.CreatedAt.Equal(refNow) {
		t.Errorf("unexpected audit metadata %q %v", e.CreatedBy, e.CreatedAt)
	}
	if len(f.audits.records) != 1 || f.audits.records[0].Action != AuditCreate || f.audits.records[0].EntryID != e.ID {
		t.Errorf("unexpected audit records %+v", f.audits.records)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Type != events.TypeEntryCreated || f.pub.events[0].Key != "1" {
		t.Errorf("unexpected events %+v", f.pub.events)
	}
}

func TestService_Register_DefaultsPriorityAndNormalizesDate(t *testing.T) {
	f := newFixture()
	local := time.Date(2024, time.March, 3, 23, 0, 0, 0, time.FixedZone("BRT", -3*60*60))
	e := &Entry{MedicalRecord: 1001, SpecialtyID: 1, ProcedureID: 10, EntryDate: local}

	if err := f.svc.Register(context.Background(), e, "nurse-1", "backlog import"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Priority != PriorityStandard {
		t.Errorf("priority = %q, want SEM", e.Priority)
	}
	if !e.EntryDate.Equal(date(2024, time.March, 3)) {
		t.Errorf("entry date = %v", e.EntryDate)
	}
}

func TestService_Register_Validation(t *testing.T) {
	tests := []struct {
		name string
		e    Entry
		err  error
	}{
		{"no record", Entry{SpecialtyID: 1, ProcedureID: 10}, ErrValidation},
		{"no specialty", Entry{MedicalRecord: 1, ProcedureID: 10}, ErrValidation},
		{"no procedure", Entry{MedicalRecord: 1, SpecialtyID: 1}, ErrValidation},
		{"bad physician", Entry{MedicalRecord: 1, SpecialtyID: 1, ProcedureID: 10, PhysicianID: i64(0)}, ErrValidation},
		{"bad priority", Entry{MedicalRecord: 1, SpecialtyID: 1, ProcedureID: 10, Priority: "URG"}, ErrValidation},
		{"bad situation", Entry{MedicalRecord: 1, SpecialtyID: 1, ProcedureID: 10, Situation: "ZZ"}, ErrValidation},
		{"future date", Entry{MedicalRecord: 1, SpecialtyID: 1, ProcedureID: 10, EntryDate: date(2024, time.June, 16)}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			e := tt.e
			if err := f.svc.Register(context.Background(), &e, "nurse-1", "referral"); !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
			if len(f.entries.entries) != 0 || len(f.pub.events) != 0 {
				t.Error("nothing should be stored or published")
			}
		})
	}
}

func TestService_Register_RequiresActorAndReason(t *testing.T) {
	f := newFixture()
	e := &Entry{MedicalRecord: 1001, SpecialtyID: 1, ProcedureID: 10}

	if err := f.svc.Register(context.Background(), e, "", "referral"); !errors.Is(err, ErrAuditRequired) {
		t.Errorf("expected ErrAuditRequired, got %v", err)
	}
	if err := f.svc.Register(context.Background(), e, "nurse-1", "  "); !errors.Is(err, ErrAuditRequired) {
		t.Errorf("expected ErrAuditRequired, got %v", err)
	}
}

func TestService_Register_AuditFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.audits.err = errors.New("disk full")
	e := &Entry{MedicalRecord: 1001, SpecialtyID: 1, ProcedureID: 10}

	if err := f.svc.Register(context.Background(), e, "nurse-1", "referral"); err == nil {
		t.Fatal("expected error")
	}
	if len(f.entries.entries) != 0 {
		t.Error("entry should not survive a failed audit write")
	}
	if len(f.pub.events) != 0 {
		t.Error("nothing should be published for a rolled back mutation")
	}
}

func TestService_Register_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.pub.err = errors.New("broker down")
	e := &Entry{MedicalRecord: 1001, SpecialtyID: 1, ProcedureID: 10}

	if err := f.svc.Register(context.Background(), e, "nurse-1", "referral"); err != nil {
		t.Fatalf("publish failure must not fail the mutation: %v", err)
	}
	if len(f.entries.entries) != 1 {
		t.Error("entry should be stored")
	}
}

func TestService_PublishFailureLoggedOnce(t *testing.T) {
	f := newFixture()
	f.pub.err = errors.New("broker down")
	var buf bytes.Buffer
	f.svc = NewService(f.entries, f.audits, f.tx, f.catalogs, f.pub, zerolog.New(&buf),
		WithClock(func() time.Time { return refNow }),
	)

	e := &Entry{MedicalRecord: 1001, SpecialtyID: 1, ProcedureID: 10}
	if err := f.svc.Register(context.Background(), e, "nurse-1", "referral"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := strings.Count(buf.String(), `"level":"error"`); n != 1 {
		t.Errorf("expected one error line, got %d: %s", n, buf.String())
	}
	if !strings.Contains(buf.String(), "broker down") {
		t.Errorf("error line should carry the cause: %s", buf.String())
	}
}

// -- Update --

func TestService_Update(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, date(2024, time.May, 1), PriorityStandard, false))

	p, judicial, notes := PriorityExpedited, true, "needs anesthesia review"
	next := date(2024, time.July, 1)
	e, err := f.svc.Update(context.Background(), 1, UpdateRequest{
		Priority:        &p,
		JudicialOrder:   &judicial,
		Notes:           &notes,
		NextContactDate: &next,
		PhysicianID:     i64(500),
	}, "dr-costa", "court order received")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Priority != PriorityExpedited || !e.JudicialOrder || *e.Notes != notes || *e.PhysicianID != 500 {
		t.Errorf("fields not applied: %+v", e)
	}
	if e.UpdatedBy == nil || *e.UpdatedBy != "dr-costa" {
		t.Errorf("updated_by = %v", e.UpdatedBy)
	}

	rec := f.audits.records[0]
	if rec.Action != AuditUpdate {
		t.Errorf("action = %q", rec.Action)
	}
	for _, field := range []string{"priority", "judicial_order", "notes", "next_contact_date", "physician_id"} {
		if _, ok := rec.Changes[field]; !ok {
			t.Errorf("missing change for %s", field)
		}
	}
	if rec.Changes["priority"].From != PriorityStandard || rec.Changes["priority"].To != PriorityExpedited {
		t.Errorf("priority change = %+v", rec.Changes["priority"])
	}
	stored, _ := f.entries.GetByID(context.Background(), 1)
	if stored.Priority != PriorityExpedited {
		t.Error("update not persisted")
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Type != events.TypeEntryUpdated {
		t.Errorf("unexpected events %+v", f.pub.events)
	}
}

func TestService_Update_NoChanges(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, date(2024, time.May, 1), PriorityStandard, false))

	p := PriorityStandard
	_, err := f.svc.Update(context.Background(), 1, UpdateRequest{Priority: &p}, "nurse-1", "recheck")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if len(f.audits.records) != 0 {
		t.Error("no audit for a no-op update")
	}
}

func TestService_Update_ClearsNotes(t *testing.T) {
	f := newFixture()
	e := activeEntry(1, date(2024, time.May, 1), PriorityStandard, false)
	old := "call after 6pm"
	e.Notes = &old
	f.seed(e)

	empty := ""
	got, err := f.svc.Update(context.Background(), 1, UpdateRequest{Notes: &empty}, "nurse-1", "obsolete note")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Notes != nil {
		t.Errorf("notes = %q, want nil", *got.Notes)
	}
}

func TestService_Update_EntryDateCorrection(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, date(2024, time.May, 1), PriorityStandard, false))

	corrected := date(2024, time.April, 2)
	e, err := f.svc.Update(context.Background(), 1, UpdateRequest{EntryDate: &corrected}, "gestor-1", "paper form predates system entry")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.EntryDate.Equal(corrected) {
		t.Errorf("entry date = %v", e.EntryDate)
	}
	rec := f.audits.records[0]
	if rec.Action != AuditCorrectEntryDate {
		t.Errorf("action = %q, want correct_entry_date", rec.Action)
	}
	if rec.Changes["entry_date"].From != "2024-05-01" || rec.Changes["entry_date"].To != "2024-04-02" {
		t.Errorf("change = %+v", rec.Changes["entry_date"])
	}
}

func TestService_Update_EntryDateMustBeAlone(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, date(2024, time.May, 1), PriorityStandard, false))

	d := date(2024, time.April, 2)
	p := PriorityOncologic
	_, err := f.svc.Update(context.Background(), 1, UpdateRequest{EntryDate: &d, Priority: &p}, "gestor-1", "fix")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestService_Update_EntryDateInFuture(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, date(2024, time.May, 1), PriorityStandard, false))

	d := date(2024, time.June, 30)
	_, err := f.svc.Update(context.Background(), 1, UpdateRequest{EntryDate: &d}, "gestor-1", "fix")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestService_Update_RemovedEntry(t *testing.T) {
	f := newFixture()
	e := activeEntry(1, date(2024, time.May, 1), PriorityStandard, false)
	e.Status = Removed{Reason: ExitDeath}
	f.seed(e)

	p := PriorityExpedited
	_, err := f.svc.Update(context.Background(), 1, UpdateRequest{Priority: &p}, "nurse-1", "escalate")
	if !errors.Is(err, ErrAlreadyRemoved) {
		t.Errorf("expected ErrAlreadyRemoved, got %v", err)
	}
}

func TestService_Update_NotFound(t *testing.T) {
	f := newFixture()
	p := PriorityExpedited
	_, err := f.svc.Update(context.Background(), 99, UpdateRequest{Priority: &p}, "nurse-1", "escalate")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -- Remove --

func TestService_Remove(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, date(2024, time.May, 1), PriorityStandard, false))

	e, err := f.svc.Remove(context.Background(), 1, ExitSurgeryPerformed, "gestor-1", "surgery on 2024-06-14")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := e.Status.(Removed)
	if !ok || r.Reason != ExitSurgeryPerformed || r.At == nil || !r.At.Equal(refNow) {
		t.Errorf("status = %#v", e.Status)
	}
	if f.audits.records[0].Action != AuditRemove {
		t.Errorf("action = %q", f.audits.records[0].Action)
	}
	if f.pub.events[0].Type != events.TypeEntryRemoved {
		t.Errorf("event = %q", f.pub.events[0].Type)
	}

	_, err = f.svc.Remove(context.Background(), 1, ExitDeath, "gestor-1", "again")
	if !errors.Is(err, ErrAlreadyRemoved) {
		t.Errorf("expected ErrAlreadyRemoved, got %v", err)
	}
}

func TestService_Remove_InvalidReason(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, date(2024, time.May, 1), PriorityStandard, false))

	if _, err := f.svc.Remove(context.Background(), 1, "MOVED", "gestor-1", "moved away"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if f.tx.calls != 0 {
		t.Error("validation should fail before opening a transaction")
	}
}

// -- Queue --

func TestService_Queue(t *testing.T) {
	f := newFixture()
	a := activeEntry(1, refNow.AddDate(0, 0, -45), PriorityStandard, true)
	a.MedicalRecord = 1001
	a.PhysicianID = i64(500)
	b := activeEntry(2, refNow.AddDate(0, 0, -40), PriorityExpedited, false)
	b.MedicalRecord = 1002
	c := activeEntry(3, refNow.AddDate(0, 0, -28), PriorityOncologic, false)
	c.ProcedureID = 11
	c.PhysicianID = i64(501)
	gone := activeEntry(4, refNow.AddDate(0, 0, -400), PriorityStandard, true)
	gone.Status = Removed{Reason: ExitDeath}
	broken := activeEntry(5, refNow.AddDate(0, 0, -3), Priority("X"), false)
	for _, e := range []*Entry{a, b, c, gone, broken} {
		f.seed(e)
	}

	q, err := f.svc.Queue(context.Background(), Filter{SpecialtyID: i64(1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.AsOf.Equal(refNow) {
		t.Errorf("AsOf = %v", q.AsOf)
	}
	active := q.Active()
	if len(active) != 3 || len(q.Entries) != 3 {
		t.Fatalf("expected 3 active entries and no removed ones, got %d/%d", len(active), len(q.Entries))
	}
	for i, id := range []int64{1, 2, 3} {
		if active[i].Entry.ID != id {
			t.Errorf("position %d: got entry %d, want %d", i+1, active[i].Entry.ID, id)
		}
	}

	first := active[0].Entry.Display
	if first.PatientName != "Maria Silva Santos" || first.SpecialtyName != "Orthopedics" || first.PhysicianName != "Dr. Costa" {
		t.Errorf("display = %+v", first)
	}
	third := active[2].Entry.Display
	if third.PatientName != PlaceholderPatientName || third.ProcedureName != PlaceholderProcedure || third.PhysicianName != PlaceholderPhysician {
		t.Errorf("placeholders not applied: %+v", third)
	}
	if second := active[1].Entry.Display; second.PhysicianName != "" {
		t.Errorf("entry without physician should have no physician name, got %q", second.PhysicianName)
	}

	if len(q.Issues) != 1 || q.Issues[0].EntryID != 5 {
		t.Errorf("issues = %+v", q.Issues)
	}
	if f.observer.calls != 1 || f.observer.active != 3 || len(f.observer.kinds) != 1 {
		t.Errorf("observer = %+v", f.observer)
	}
}

func TestService_Queue_UsesHospitalLocation(t *testing.T) {
	f := newFixture()
	brt := time.FixedZone("BRT", -3*60*60)
	f.svc = NewService(f.entries, f.audits, f.tx, f.catalogs, f.pub, zerolog.Nop(), WithLocation(brt))
	// 02:00 UTC on June 16 is June 15 in the hospital.
	f.entries.asOf = time.Date(2024, time.June, 16, 2, 0, 0, 0, time.UTC)
	f.seed(activeEntry(1, date(2024, time.June, 5), PriorityStandard, false))

	q, err := f.svc.Queue(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := q.Entries[0].Score.DaysWaited; d != 10 {
		t.Errorf("days = %d, want 10", d)
	}
}

func TestService_Queue_CatalogError(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, refNow.AddDate(0, 0, -3), PriorityStandard, false))
	f.catalogs.err = errors.New("catalog timeout")

	if _, err := f.svc.Queue(context.Background(), Filter{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestService_Queue_SnapshotError(t *testing.T) {
	f := newFixture()
	f.entries.err = errors.New("connection refused")

	if _, err := f.svc.Queue(context.Background(), Filter{}); err == nil {
		t.Fatal("expected error")
	}
	if f.observer.calls != 0 {
		t.Error("failed builds are not observed")
	}
}

func TestService_Stats(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, refNow.AddDate(0, 0, -10), PriorityExpedited, false))
	f.seed(activeEntry(2, refNow.AddDate(0, 0, -20), PriorityStandard, true))

	st, err := f.svc.Stats(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TotalPatients != 2 || st.AverageWaitDays != 15 || st.BySpecialty["Orthopedics"] != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}

// -- Get / Search / History --

func TestService_Get(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, refNow.AddDate(0, 0, -5), PriorityStandard, false))
	f.seed(activeEntry(2, refNow.AddDate(0, 0, -50), PriorityStandard, false))
	other := activeEntry(3, refNow.AddDate(0, 0, -500), PriorityStandard, true)
	other.SpecialtyID = 2
	f.seed(other)

	r, err := f.svc.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Position == nil || *r.Position != 2 {
		t.Errorf("position should be counted inside its own queue, got %v", r.Position)
	}
}

func TestService_Get_Removed(t *testing.T) {
	f := newFixture()
	e := activeEntry(1, refNow.AddDate(0, 0, -5), PriorityStandard, false)
	e.Status = Removed{Reason: ExitNoShow}
	f.seed(e)

	r, err := f.svc.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Position != nil {
		t.Error("removed entry must not have a position")
	}
	if r.Score.DaysWaited != 5 || r.Entry.Display.SpecialtyName != "Orthopedics" {
		t.Errorf("unexpected %+v", r)
	}
}

func TestService_Get_NotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Get(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Get_DataIssue(t *testing.T) {
	noStatus := activeEntry(2, refNow.AddDate(0, 0, -10), PriorityStandard, false)
	noStatus.Status = nil

	tests := []struct {
		name string
		e    *Entry
		kind IssueKind
	}{
		{"unknown priority", activeEntry(1, refNow.AddDate(0, 0, -30), Priority("URG"), true), IssueInvalidPriority},
		{"status disagrees", noStatus, IssueInvalidStatus},
		{"missing entry date", activeEntry(3, time.Time{}, PriorityStandard, false), IssueInvalidEntryDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.seed(activeEntry(9, refNow.AddDate(0, 0, -5), PriorityStandard, false))
			f.seed(tt.e)

			r, err := f.svc.Get(context.Background(), tt.e.ID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Position != nil {
				t.Errorf("excluded entry must not have a position, got %d", *r.Position)
			}
			if r.Issue == nil || r.Issue.Kind != tt.kind || !r.Issue.Excluded {
				t.Fatalf("expected excluded %s issue, got %+v", tt.kind, r.Issue)
			}
			if r.Score.PriorityScore != 0 {
				t.Errorf("excluded entry should not be scored, got %v", r.Score.PriorityScore)
			}

			b, err := json.Marshal(r)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var body map[string]any
			if err := json.Unmarshal(b, &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			issue, ok := body["issue"].(map[string]any)
			if !ok || issue["kind"] != string(tt.kind) {
				t.Errorf("issue missing from body: %s", b)
			}
			if _, ok := body["category"]; ok {
				t.Errorf("excluded entry should not report a category: %s", b)
			}
		})
	}
}

func TestService_Get_FutureDatedKeepsPosition(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, refNow.AddDate(0, 0, -5), PriorityStandard, false))
	f.seed(activeEntry(2, refNow.AddDate(0, 0, 3), PriorityStandard, false))

	r, err := f.svc.Get(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Position == nil || *r.Position != 2 {
		t.Errorf("future-dated entry should still be ranked, got %v", r.Position)
	}
	if r.Issue == nil || r.Issue.Kind != IssueFutureEntryDate || r.Issue.Excluded {
		t.Errorf("expected non-excluding future date issue, got %+v", r.Issue)
	}

	clean, err := f.svc.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clean.Issue != nil {
		t.Errorf("clean entry should carry no issue, got %+v", clean.Issue)
	}
}

func TestService_Search(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, refNow.AddDate(0, 0, -5), PriorityStandard, false))
	gone := activeEntry(2, refNow.AddDate(0, 0, -9), PriorityStandard, false)
	gone.Status = Removed{Reason: ExitDeath}
	f.seed(gone)

	items, total, err := f.svc.Search(context.Background(), Filter{}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected both entries, got %d/%d", len(items), total)
	}
	if items[0].Display.ProcedureName != "Knee arthroplasty" {
		t.Errorf("display not resolved: %+v", items[0].Display)
	}
}

func TestService_History(t *testing.T) {
	f := newFixture()
	f.seed(activeEntry(1, date(2024, time.May, 1), PriorityStandard, false))
	p := PriorityExpedited
	if _, err := f.svc.Update(context.Background(), 1, UpdateRequest{Priority: &p}, "nurse-1", "worsened"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.svc.Remove(context.Background(), 1, ExitSurgeryPerformed, "gestor-1", "done"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	recs, err := f.svc.History(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 || recs[0].Action != AuditRemove || recs[1].Action != AuditUpdate {
		t.Errorf("history should be newest first, got %+v", recs)
	}

	if _, err := f.svc.History(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -- Public lookup --

func TestService_PublicLookup(t *testing.T) {
	f := newFixture()
	mine := activeEntry(1, refNow.AddDate(0, 0, -10), PriorityStandard, false)
	mine.MedicalRecord = 1001
	ahead := activeEntry(2, refNow.AddDate(0, 0, -90), PriorityStandard, false)
	ahead.MedicalRecord = 1002
	elsewhere := activeEntry(3, refNow.AddDate(0, 0, -3), PriorityOncologic, false)
	elsewhere.MedicalRecord = 1001
	elsewhere.ProcedureID = 11
	old := activeEntry(4, refNow.AddDate(0, 0, -400), PriorityStandard, false)
	old.MedicalRecord = 1001
	old.Status = Removed{Reason: ExitSurgeryPerformed}
	for _, e := range []*Entry{mine, ahead, elsewhere, old} {
		f.seed(e)
	}

	got, err := f.svc.PublicLookup(context.Background(), 1001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 public entries, got %+v", got)
	}
	byProc := map[string]PublicEntry{}
	for _, p := range got {
		byProc[p.ProcedureName] = p
		if p.MaskedName != "Maria S. S." {
			t.Errorf("name not masked: %q", p.MaskedName)
		}
	}
	knee := byProc["Knee arthroplasty"]
	if knee.QueuePosition != 2 || knee.QueueSize != 2 {
		t.Errorf("knee standing = %+v", knee)
	}
	other := byProc[PlaceholderProcedure]
	if other.QueuePosition != 1 || other.QueueSize != 1 {
		t.Errorf("other standing = %+v", other)
	}
}

func TestService_PublicLookup_Unknown(t *testing.T) {
	f := newFixture()
	got, err := f.svc.PublicLookup(context.Background(), 777)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}

	if _, err := f.svc.PublicLookup(context.Background(), 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestService_PublicLookup_MasksMissingName(t *testing.T) {
	f := newFixture()
	e := activeEntry(1, refNow.AddDate(0, 0, -10), PriorityStandard, false)
	e.MedicalRecord = 4242
	f.seed(e)

	got, err := f.svc.PublicLookup(context.Background(), 4242)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].MaskedName != "***" {
		t.Errorf("unexpected %+v", got)
	}
}
