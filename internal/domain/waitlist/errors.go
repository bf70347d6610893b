package waitlist

import "errors"

var (
	// ErrInvalidEntryData marks an entry that cannot be scored or ranked.
	ErrInvalidEntryData = errors.New("invalid entry data")
	// ErrInconsistentSnapshot is returned when scored entries were computed
	// against different points in time.
	ErrInconsistentSnapshot = errors.New("inconsistent snapshot")

	ErrNotFound       = errors.New("entry not found")
	ErrValidation     = errors.New("validation failed")
	ErrAlreadyRemoved = errors.New("entry already removed")
	ErrAuditRequired  = errors.New("actor and reason are required")
)

// IssueKind classifies a data-quality problem found while building a queue.
type IssueKind string

const (
	IssueInvalidEntryDate IssueKind = "invalid_entry_date"
	IssueInvalidPriority  IssueKind = "invalid_priority"
	IssueInvalidStatus    IssueKind = "invalid_status"
	IssueFutureEntryDate  IssueKind = "future_entry_date"
)

// DataIssue reports one entry excluded from, or flagged during, ranking.
type DataIssue struct {
	EntryID  int64     `json:"entry_id"`
	Kind     IssueKind `json:"kind"`
	Message  string    `json:"message"`
	Excluded bool      `json:"excluded"`
}
