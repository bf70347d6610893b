package waitlist

import (
	"encoding/json"
	"time"
)

const dateLayout = "2006-01-02"

type entryView struct {
	ID              int64       `json:"id"`
	MedicalRecord   int64       `json:"medical_record"`
	SpecialtyID     int64       `json:"specialty_id"`
	ProcedureID     int64       `json:"procedure_id"`
	PhysicianID     *int64      `json:"physician_id,omitempty"`
	EntryDate       string      `json:"entry_date"`
	Priority        Priority    `json:"priority"`
	JudicialOrder   bool        `json:"judicial_order"`
	Active          bool        `json:"active"`
	ExitReason      *ExitReason `json:"exit_reason,omitempty"`
	RemovedAt       *time.Time  `json:"removed_at,omitempty"`
	Situation       Situation   `json:"situation"`
	NextContactDate *string     `json:"next_contact_date,omitempty"`
	Notes           *string     `json:"notes,omitempty"`
	CreatedBy       string      `json:"created_by"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedBy       *string     `json:"updated_by,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Display         Display     `json:"display"`
}

func viewOf(e *Entry) entryView {
	v := entryView{
		ID:            e.ID,
		MedicalRecord: e.MedicalRecord,
		SpecialtyID:   e.SpecialtyID,
		ProcedureID:   e.ProcedureID,
		PhysicianID:   e.PhysicianID,
		Priority:      e.Priority,
		JudicialOrder: e.JudicialOrder,
		Situation:     e.Situation,
		Notes:         e.Notes,
		CreatedBy:     e.CreatedBy,
		CreatedAt:     e.CreatedAt,
		UpdatedBy:     e.UpdatedBy,
		UpdatedAt:     e.UpdatedAt,
		Display:       e.Display,
	}
	if !e.EntryDate.IsZero() {
		v.EntryDate = e.EntryDate.Format(dateLayout)
	}
	if e.NextContactDate != nil {
		d := e.NextContactDate.Format(dateLayout)
		v.NextContactDate = &d
	}
	switch st := e.Status.(type) {
	case Active:
		v.Active = true
	case Removed:
		r := st.Reason
		v.ExitReason = &r
		v.RemovedAt = st.At
	}
	return v
}

// MarshalJSON flattens the status variant into active/exit_reason.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(viewOf(&e))
}

type rankedView struct {
	entryView
	DaysWaited    int        `json:"days_waited"`
	PriorityScore float64    `json:"priority_score"`
	Category      string     `json:"category,omitempty"`
	Urgent        bool       `json:"urgent"`
	Oncologic     bool       `json:"oncologic"`
	Judicial      bool       `json:"judicial"`
	FutureDated   bool       `json:"future_dated,omitempty"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	Issue         *DataIssue `json:"issue,omitempty"`
}

func (r RankedEntry) MarshalJSON() ([]byte, error) {
	category := r.Score.Category()
	if r.Issue != nil && r.Issue.Excluded {
		category = ""
	}
	return json.Marshal(rankedView{
		entryView:     viewOf(r.Entry),
		DaysWaited:    r.Score.DaysWaited,
		PriorityScore: r.Score.PriorityScore,
		Category:      category,
		Urgent:        r.Score.Urgent,
		Oncologic:     r.Score.Oncologic,
		Judicial:      r.Score.Judicial,
		FutureDated:   r.Score.FutureDated,
		QueuePosition: r.Position,
		Issue:         r.Issue,
	})
}
