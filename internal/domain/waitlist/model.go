package waitlist

import (
	"time"
)

// Priority is the clinical classification assigned by clinical staff.
// The codes match the values stored in waitlist_entry.priority.
type Priority string

const (
	PriorityOncologic Priority = "ONC"
	PriorityExpedited Priority = "BRE"
	PriorityStandard  Priority = "SEM"
)

var validPriorities = map[Priority]bool{
	PriorityOncologic: true,
	PriorityExpedited: true,
	PriorityStandard:  true,
}

// Valid reports whether p is one of the known clinical priorities.
func (p Priority) Valid() bool { return validPriorities[p] }

// ExitReason is the closed set of reasons an entry leaves the queue.
type ExitReason string

const (
	ExitSurgeryPerformed        ExitReason = "SURGERY_PERFORMED"
	ExitDeath                   ExitReason = "DEATH"
	ExitTreatedElsewhere        ExitReason = "TREATED_ELSEWHERE"
	ExitSelfWithdrawal          ExitReason = "SELF_WITHDRAWAL"
	ExitMedicalContraindication ExitReason = "MEDICAL_CONTRAINDICATION"
	ExitNoShow                  ExitReason = "NO_SHOW"
)

var validExitReasons = map[ExitReason]bool{
	ExitSurgeryPerformed:        true,
	ExitDeath:                   true,
	ExitTreatedElsewhere:        true,
	ExitSelfWithdrawal:          true,
	ExitMedicalContraindication: true,
	ExitNoShow:                  true,
}

func (r ExitReason) Valid() bool { return validExitReasons[r] }

// Situation is the administrative follow-up state of an entry.
type Situation string

const (
	SituationConsultScheduled  Situation = "CA"
	SituationAwaitingExams     Situation = "AE"
	SituationPendingDocuments  Situation = "DP"
	SituationReadyForSurgery   Situation = "PP"
	SituationContactNotReached Situation = "CNR"
	SituationFirstFailedCall   Situation = "T1F"
	SituationSecondFailedCall  Situation = "T2F"
	SituationThirdFailedCall   Situation = "T3F"
	SituationCRS               Situation = "CRS"
)

var validSituations = map[Situation]bool{
	SituationConsultScheduled:  true,
	SituationAwaitingExams:     true,
	SituationPendingDocuments:  true,
	SituationReadyForSurgery:   true,
	SituationContactNotReached: true,
	SituationFirstFailedCall:   true,
	SituationSecondFailedCall:  true,
	SituationThirdFailedCall:   true,
	SituationCRS:               true,
}

func (s Situation) Valid() bool { return validSituations[s] }

// Entry is one patient's registration into one specialty/procedure queue.
type Entry struct {
	ID              int64
	MedicalRecord   int64
	SpecialtyID     int64
	ProcedureID     int64
	PhysicianID     *int64
	EntryDate       time.Time
	Priority        Priority
	JudicialOrder   bool
	Status          Status
	Situation       Situation
	NextContactDate *time.Time
	Notes           *string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedBy       *string
	UpdatedAt       time.Time

	// Display data joined from the catalogs. Never persisted on the entry.
	Display Display
}

// Active reports whether the entry currently occupies a queue slot.
func (e *Entry) Active() bool {
	_, ok := e.Status.(Active)
	return ok
}

// Display holds catalog names for an entry.
type Display struct {
	PatientName   string `json:"patient_name"`
	PatientPhone  string `json:"patient_phone,omitempty"`
	SpecialtyName string `json:"specialty_name"`
	ProcedureName string `json:"procedure_name"`
	PhysicianName string `json:"physician_name,omitempty"`
}

// References identifies the catalog rows a set of entries points at.
type References struct {
	MedicalRecords []int64
	Specialties    []int64
	Procedures     []int64
	Physicians     []int64
}

// Filter narrows the entries read from the store.
type Filter struct {
	SpecialtyID   *int64
	ProcedureID   *int64
	PhysicianID   *int64
	MedicalRecord *int64
	Priority      *Priority
	JudicialOrder *bool
	Active        *bool
	From          *time.Time
	To            *time.Time
}

// Snapshot is a set of entries read at one logical time.
type Snapshot struct {
	Entries []*Entry
	AsOf    time.Time
}

// AuditAction names the kind of audited mutation.
type AuditAction string

const (
	AuditCreate           AuditAction = "create"
	AuditUpdate           AuditAction = "update"
	AuditRemove           AuditAction = "remove"
	AuditCorrectEntryDate AuditAction = "correct_entry_date"
)

// FieldChange is the before/after value of one mutated field.
type FieldChange struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// AuditRecord is the audit-log row paired with every mutation.
type AuditRecord struct {
	ID         string                 `json:"id"`
	EntryID    int64                  `json:"entry_id"`
	Action     AuditAction            `json:"action"`
	Actor      string                 `json:"actor"`
	Reason     string                 `json:"reason"`
	Changes    map[string]FieldChange `json:"changes,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
}
