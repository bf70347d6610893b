package waitlist

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sgfc/sgfc/internal/platform/events"
)

// Display values used when a catalog join misses.
const (
	PlaceholderPatientName = "Name not available"
	PlaceholderSpecialty   = "Specialty not found"
	PlaceholderProcedure   = "Procedure not found"
	PlaceholderPhysician   = "Physician not found"
)

type Service struct {
	entries  EntryRepository
	audits   AuditRepository
	tx       Transactor
	catalogs CatalogResolver
	events   events.Publisher
	logger   zerolog.Logger
	observer QueueObserver
	clock    func() time.Time
	loc      *time.Location
}

type Option func(*Service)

// WithObserver reports every built queue to o.
func WithObserver(o QueueObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock replaces time.Now for mutation timestamps and default entry dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = now }
}

// WithLocation sets the hospital time zone in which days waited are counted.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func NewService(entries EntryRepository, audits AuditRepository, tx Transactor, catalogs CatalogResolver, pub events.Publisher, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		entries:  entries,
		audits:   audits,
		tx:       tx,
		catalogs: catalogs,
		events:   pub,
		logger:   logger.With().Str("component", "waitlist").Logger(),
		clock:    time.Now,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) now() time.Time {
	return s.clock().In(s.loc)
}

// civilDate returns the calendar date of t as UTC midnight, the form in which
// entry dates are stored.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func requireAudit(actor, reason string) error {
	if strings.TrimSpace(actor) == "" || strings.TrimSpace(reason) == "" {
		return ErrAuditRequired
	}
	return nil
}

// -- Mutations --

// Register validates e, stores it as an active entry and records the audit
// row in the same transaction. A zero EntryDate defaults to today.
func (s *Service) Register(ctx context.Context, e *Entry, actor, reason string) error {
	if err := requireAudit(actor, reason); err != nil {
		return err
	}
	now := s.now()
	today := civilDate(now)

	switch {
	case e.MedicalRecord <= 0:
		return fmt.Errorf("%w: medical_record is required", ErrValidation)
	case e.SpecialtyID <= 0:
		return fmt.Errorf("%w: specialty_id is required", ErrValidation)
	case e.ProcedureID <= 0:
		return fmt.Errorf("%w: procedure_id is required", ErrValidation)
	case e.PhysicianID != nil && *e.PhysicianID <= 0:
		return fmt.Errorf("%w: physician_id must be positive", ErrValidation)
	}
	if e.Priority == "" {
		e.Priority = PriorityStandard
	}
	if !e.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, e.Priority)
	}
	if e.Situation != "" && !e.Situation.Valid() {
		return fmt.Errorf("%w: unknown situation %q", ErrValidation, e.Situation)
	}
	if e.EntryDate.IsZero() {
		e.EntryDate = today
	} else {
		e.EntryDate = civilDate(e.EntryDate)
	}
	if e.EntryDate.After(today) {
		return fmt.Errorf("%w: entry_date %s is in the future", ErrValidation, e.EntryDate.Format(dateLayout))
	}

	e.Status = Active{}
	e.CreatedBy = actor
	e.CreatedAt = now
	e.UpdatedBy = nil
	e.UpdatedAt = now

	rec := &AuditRecord{
		ID:         uuid.NewString(),
		Action:     AuditCreate,
		Actor:      actor,
		Reason:     reason,
		RecordedAt: now,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.entries.Create(ctx, e); err != nil {
			return err
		}
		rec.EntryID = e.ID
		return s.audits.Record(ctx, rec)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.TypeEntryCreated, rec, e)
	return nil
}

// UpdateRequest lists the mutable fields of an entry. Nil fields are left
// unchanged; an empty Notes clears the notes.
type UpdateRequest struct {
	Priority        *Priority
	JudicialOrder   *bool
	Situation       *Situation
	Notes           *string
	NextContactDate *time.Time
	PhysicianID     *int64
	// EntryDate is a backdating correction and must be sent on its own.
	EntryDate *time.Time
}

// Update applies req to an active entry. The returned entry carries the new
// values; the audit record lists every changed field.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest, actor, reason string) (*Entry, error) {
	if err := requireAudit(actor, reason); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()

	var (
		entry *Entry
		rec   *AuditRecord
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.entries.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !e.Active() {
			return fmt.Errorf("%w: entry %d", ErrAlreadyRemoved, id)
		}

		changes, action, err := apply(e, req, civilDate(now))
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return fmt.Errorf("%w: no field changes", ErrValidation)
		}
		e.UpdatedBy = &actor
		e.UpdatedAt = now

		rec = &AuditRecord{
			ID:         uuid.NewString(),
			EntryID:    e.ID,
			Action:     action,
			Actor:      actor,
			Reason:     reason,
			Changes:    changes,
			RecordedAt: now,
		}
		if err := s.entries.Update(ctx, e); err != nil {
			return err
		}
		entry = e
		return s.audits.Record(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeEntryUpdated, rec, entry)
	return entry, nil
}

func (r UpdateRequest) validate() error {
	if r.Priority != nil && !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, *r.Priority)
	}
	if r.Situation != nil && *r.Situation != "" && !r.Situation.Valid() {
		return fmt.Errorf("%w: unknown situation %q", ErrValidation, *r.Situation)
	}
	if r.PhysicianID != nil && *r.PhysicianID <= 0 {
		return fmt.Errorf("%w: physician_id must be positive", ErrValidation)
	}
	if r.EntryDate != nil {
		if r.EntryDate.IsZero() {
			return fmt.Errorf("%w: entry_date is empty", ErrValidation)
		}
		if r.Priority != nil || r.JudicialOrder != nil || r.Situation != nil || r.Notes != nil || r.NextContactDate != nil || r.PhysicianID != nil {
			return fmt.Errorf("%w: entry_date corrections must be submitted alone", ErrValidation)
		}
	}
	return nil
}

// apply copies req onto e and returns the changed fields.
func apply(e *Entry, req UpdateRequest, today time.Time) (map[string]FieldChange, AuditAction, error) {
	changes := map[string]FieldChange{}

	if req.EntryDate != nil {
		d := civilDate(*req.EntryDate)
		if d.After(today) {
			return nil, "", fmt.Errorf("%w: entry_date %s is in the future", ErrValidation, d.Format(dateLayout))
		}
		if !d.Equal(e.EntryDate) {
			changes["entry_date"] = FieldChange{From: e.EntryDate.Format(dateLayout), To: d.Format(dateLayout)}
			e.EntryDate = d
		}
		return changes, AuditCorrectEntryDate, nil
	}

	if req.Priority != nil && *req.Priority != e.Priority {
		changes["priority"] = FieldChange{From: e.Priority, To: *req.Priority}
		e.Priority = *req.Priority
	}
	if req.JudicialOrder != nil && *req.JudicialOrder != e.JudicialOrder {
		changes["judicial_order"] = FieldChange{From: e.JudicialOrder, To: *req.JudicialOrder}
		e.JudicialOrder = *req.JudicialOrder
	}
	if req.Situation != nil && *req.Situation != e.Situation {
		changes["situation"] = FieldChange{From: e.Situation, To: *req.Situation}
		e.Situation = *req.Situation
	}
	if req.Notes != nil {
		var next *string
		if strings.TrimSpace(*req.Notes) != "" {
			n := *req.Notes
			next = &n
		}
		if !equalPtr(e.Notes, next) {
			changes["notes"] = FieldChange{From: e.Notes, To: next}
			e.Notes = next
		}
	}
	if req.NextContactDate != nil {
		d := civilDate(*req.NextContactDate)
		if e.NextContactDate == nil || !e.NextContactDate.Equal(d) {
			changes["next_contact_date"] = FieldChange{From: formatDatePtr(e.NextContactDate), To: d.Format(dateLayout)}
			e.NextContactDate = &d
		}
	}
	if req.PhysicianID != nil && !equalPtr(e.PhysicianID, req.PhysicianID) {
		id := *req.PhysicianID
		changes["physician_id"] = FieldChange{From: e.PhysicianID, To: id}
		e.PhysicianID = &id
	}
	return changes, AuditUpdate, nil
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func formatDatePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

// Remove moves an active entry to Removed with the given exit reason.
func (s *Service) Remove(ctx context.Context, id int64, exit ExitReason, actor, reason string) (*Entry, error) {
	if err := requireAudit(actor, reason); err != nil {
		return nil, err
	}
	if !exit.Valid() {
		return nil, fmt.Errorf("%w: unknown exit reason %q", ErrValidation, exit)
	}
	now := s.now()

	var (
		entry *Entry
		rec   *AuditRecord
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.entries.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !e.Active() {
			return fmt.Errorf("%w: entry %d", ErrAlreadyRemoved, id)
		}
		e.Status = Removed{Reason: exit, At: &now}
		e.UpdatedBy = &actor
		e.UpdatedAt = now

		rec = &AuditRecord{
			ID:      uuid.NewString(),
			EntryID: e.ID,
			Action:  AuditRemove,
			Actor:   actor,
			Reason:  reason,
			Changes: map[string]FieldChange{
				"active":      {From: true, To: false},
				"exit_reason": {From: nil, To: exit},
			},
			RecordedAt: now,
		}
		if err := s.entries.Update(ctx, e); err != nil {
			return err
		}
		entry = e
		return s.audits.Record(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeEntryRemoved, rec, entry)
	return entry, nil
}

// publish runs after commit. The audit row is already durable, so a broker
// failure is logged and not returned.
func (s *Service) publish(ctx context.Context, typ string, rec *AuditRecord, e *Entry) {
	evt := events.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Key:        strconv.FormatInt(e.ID, 10),
		Actor:      rec.Actor,
		Reason:     rec.Reason,
		OccurredAt: rec.RecordedAt,
		Data: map[string]interface{}{
			"audit": rec,
			"entry": e,
		},
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", typ).
			Int64("entry_id", e.ID).
			Msg("publish audit event")
	}
}

// -- Reads --

// Queue builds the ranked queue of active entries matching f from a single
// consistent snapshot.
func (s *Service) Queue(ctx context.Context, f Filter) (*Queue, error) {
	start := time.Now()
	active := true
	f.Active = &active

	snap, err := s.entries.Snapshot(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if err := s.resolve(ctx, snap.Entries); err != nil {
		return nil, err
	}

	q := BuildQueue(snap.Entries, snap.AsOf.In(s.loc))

	kinds := make([]string, 0, len(q.Issues))
	for _, issue := range q.Issues {
		kinds = append(kinds, string(issue.Kind))
		s.logger.Warn().
			Int64("entry_id", issue.EntryID).
			Str("kind", string(issue.Kind)).
			Bool("excluded", issue.Excluded).
			Msg(issue.Message)
	}
	if s.observer != nil {
		s.observer.ObserveQueue(len(q.Active()), kinds, time.Since(start))
	}
	return q, nil
}

func (s *Service) Stats(ctx context.Context, f Filter) (*Stats, error) {
	q, err := s.Queue(ctx, f)
	if err != nil {
		return nil, err
	}
	return ComputeStats(q), nil
}

// Get returns the entry scored as of now. Active entries carry their
// position inside their specialty/procedure queue. An entry with bad data
// comes back with its Issue set instead of a position.
func (s *Service) Get(ctx context.Context, id int64) (RankedEntry, error) {
	e, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return RankedEntry{}, err
	}
	if e.Active() {
		q, err := s.Queue(ctx, Filter{SpecialtyID: &e.SpecialtyID, ProcedureID: &e.ProcedureID})
		if err != nil {
			return RankedEntry{}, err
		}
		if r, ok := q.Find(id); ok {
			r.Issue = q.IssueFor(id)
			return r, nil
		}
	}

	if err := s.resolve(ctx, []*Entry{e}); err != nil {
		return RankedEntry{}, err
	}
	score, issue := assess(e, s.now())
	return RankedEntry{Entry: e, Score: score, Issue: issue}, nil
}

// Search lists entries, removed ones included, with display data attached.
func (s *Service) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	items, total, err := s.entries.Search(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := s.resolve(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// History returns the audit records of an entry, newest first.
func (s *Service) History(ctx context.Context, id int64) ([]*AuditRecord, error) {
	if _, err := s.entries.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.audits.ListByEntry(ctx, id)
}

// PublicLookup returns the anonymized standing of every active entry of a
// patient, each positioned inside its own specialty/procedure queue.
func (s *Service) PublicLookup(ctx context.Context, medicalRecord int64) ([]PublicEntry, error) {
	if medicalRecord <= 0 {
		return nil, fmt.Errorf("%w: medical_record must be positive", ErrValidation)
	}
	active := true
	own, err := s.entries.Snapshot(ctx, Filter{MedicalRecord: &medicalRecord, Active: &active})
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	type queueKey struct{ specialty, procedure int64 }
	var keys []queueKey
	wanted := map[queueKey][]int64{}
	for _, e := range own.Entries {
		k := queueKey{e.SpecialtyID, e.ProcedureID}
		if _, seen := wanted[k]; !seen {
			keys = append(keys, k)
		}
		wanted[k] = append(wanted[k], e.ID)
	}

	out := []PublicEntry{}
	for _, k := range keys {
		spec, proc := k.specialty, k.procedure
		q, err := s.Queue(ctx, Filter{SpecialtyID: &spec, ProcedureID: &proc})
		if err != nil {
			return nil, err
		}
		size := len(q.Active())
		for _, id := range wanted[k] {
			if r, ok := q.Find(id); ok && r.Position != nil {
				out = append(out, Anonymize(r, size))
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QueuePosition < out[j].QueuePosition })
	return out, nil
}

// -- Catalog joins --

func referencesOf(entries []*Entry) References {
	var refs References
	patients, specialties, procedures, physicians := map[int64]bool{}, map[int64]bool{}, map[int64]bool{}, map[int64]bool{}
	add := func(seen map[int64]bool, id int64, dst *[]int64) {
		if !seen[id] {
			seen[id] = true
			*dst = append(*dst, id)
		}
	}
	for _, e := range entries {
		add(patients, e.MedicalRecord, &refs.MedicalRecords)
		add(specialties, e.SpecialtyID, &refs.Specialties)
		add(procedures, e.ProcedureID, &refs.Procedures)
		if e.PhysicianID != nil {
			add(physicians, *e.PhysicianID, &refs.Physicians)
		}
	}
	return refs
}

// resolve fills Display on every entry, querying the four catalogs
// concurrently. Missing rows get placeholder names.
func (s *Service) resolve(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	refs := referencesOf(entries)

	var patients map[int64]PatientDisplay
	var specialties, procedures, physicians map[int64]string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	g.Go(func() (err error) {
		patients, err = s.catalogs.Patients(gctx, refs.MedicalRecords)
		return err
	})
	g.Go(func() (err error) {
		specialties, err = s.catalogs.Specialties(gctx, refs.Specialties)
		return err
	})
	g.Go(func() (err error) {
		procedures, err = s.catalogs.Procedures(gctx, refs.Procedures)
		return err
	})
	g.Go(func() (err error) {
		if len(refs.Physicians) == 0 {
			return nil
		}
		physicians, err = s.catalogs.Physicians(gctx, refs.Physicians)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("resolve catalogs: %w", err)
	}

	for _, e := range entries {
		d := Display{
			PatientName:   PlaceholderPatientName,
			SpecialtyName: orDefault(specialties[e.SpecialtyID], PlaceholderSpecialty),
			ProcedureName: orDefault(procedures[e.ProcedureID], PlaceholderProcedure),
		}
		if p, ok := patients[e.MedicalRecord]; ok {
			d.PatientName = orDefault(p.Name, PlaceholderPatientName)
			d.PatientPhone = p.Phone
		}
		if e.PhysicianID != nil {
			d.PhysicianName = orDefault(physicians[*e.PhysicianID], PlaceholderPhysician)
		}
		e.Display = d
	}
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
