package waitlist

import (
	"fmt"
	"time"
)

// Status is either Active or Removed. Only these two types implement it, so
// an entry can never be inactive without a reason or active with one.
type Status interface {
	isStatus()
}

// Active marks an entry occupying a queue slot.
type Active struct{}

// Removed marks an entry that left the queue.
type Removed struct {
	Reason ExitReason
	At     *time.Time
}

func (Active) isStatus()  {}
func (Removed) isStatus() {}

// StatusFromColumns decodes the persisted (active, exit_reason) pair.
func StatusFromColumns(active bool, reason *string, removedAt *time.Time) (Status, error) {
	switch {
	case active && reason != nil:
		return nil, fmt.Errorf("%w: active entry carries exit reason %q", ErrInvalidEntryData, *reason)
	case active:
		return Active{}, nil
	case reason == nil || *reason == "":
		return nil, fmt.Errorf("%w: removed entry has no exit reason", ErrInvalidEntryData)
	}
	r := ExitReason(*reason)
	if !r.Valid() {
		return nil, fmt.Errorf("%w: unknown exit reason %q", ErrInvalidEntryData, *reason)
	}
	return Removed{Reason: r, At: removedAt}, nil
}

// StatusColumns encodes s into the persisted (active, exit_reason, removed_at) triple.
func StatusColumns(s Status) (active bool, reason *string, removedAt *time.Time) {
	switch st := s.(type) {
	case Active:
		return true, nil, nil
	case Removed:
		r := string(st.Reason)
		return false, &r, st.At
	}
	panic(fmt.Sprintf("waitlist: unknown status %T", s))
}
