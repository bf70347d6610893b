package waitlist

import (
	"math"
	"strings"
	"time"
)

// Stats summarizes the active part of a queue.
type Stats struct {
	AsOf            time.Time      `json:"as_of"`
	TotalPatients   int            `json:"total_patients"`
	AverageWaitDays int            `json:"average_wait_days"`
	Expedited       int            `json:"expedited"`
	Oncologic       int            `json:"oncologic"`
	Judicial        int            `json:"judicial"`
	ByCategory      map[string]int `json:"by_category"`
	BySpecialty     map[string]int `json:"by_specialty"`
	DataIssues      int            `json:"data_issues"`
}

// ComputeStats derives Stats from a built queue. Category counts use the
// same precedence as the score multiplier, so a judicial expedited entry
// counts once, as judicial.
func ComputeStats(q *Queue) *Stats {
	st := &Stats{
		AsOf:        q.AsOf,
		ByCategory:  map[string]int{},
		BySpecialty: map[string]int{},
		DataIssues:  len(q.Issues),
	}
	total := 0
	for _, r := range q.Active() {
		st.TotalPatients++
		total += r.Score.DaysWaited
		if r.Score.Urgent {
			st.Expedited++
		}
		if r.Score.Oncologic {
			st.Oncologic++
		}
		if r.Score.Judicial {
			st.Judicial++
		}
		st.ByCategory[r.Score.Category()]++
		st.BySpecialty[specialtyLabel(r.Entry)]++
	}
	if st.TotalPatients > 0 {
		st.AverageWaitDays = int(math.Round(float64(total) / float64(st.TotalPatients)))
	}
	return st
}

func specialtyLabel(e *Entry) string {
	if e.Display.SpecialtyName != "" {
		return e.Display.SpecialtyName
	}
	return "unknown"
}

// PublicEntry is the anonymized view a patient sees of their own standing.
type PublicEntry struct {
	MaskedName    string  `json:"patient"`
	SpecialtyName string  `json:"specialty"`
	ProcedureName string  `json:"procedure"`
	EntryDate     string  `json:"entry_date"`
	DaysWaited    int     `json:"days_waited"`
	PriorityScore float64 `json:"priority_score"`
	Judicial      bool    `json:"judicial"`
	Oncologic     bool    `json:"oncologic"`
	Urgent        bool    `json:"urgent"`
	QueuePosition int     `json:"queue_position"`
	QueueSize     int     `json:"queue_size"`
}

// Anonymize builds the public view of r inside a queue of queueSize entries.
// r must be positioned.
func Anonymize(r RankedEntry, queueSize int) PublicEntry {
	return PublicEntry{
		MaskedName:    MaskName(r.Entry.Display.PatientName),
		SpecialtyName: r.Entry.Display.SpecialtyName,
		ProcedureName: r.Entry.Display.ProcedureName,
		EntryDate:     r.Entry.EntryDate.Format(dateLayout),
		DaysWaited:    r.Score.DaysWaited,
		PriorityScore: r.Score.PriorityScore,
		Judicial:      r.Score.Judicial,
		Oncologic:     r.Score.Oncologic,
		Urgent:        r.Score.Urgent,
		QueuePosition: *r.Position,
		QueueSize:     queueSize,
	}
}

// MaskName keeps the first name and replaces the rest with initials.
// "Maria Silva Santos" becomes "Maria S. S.". Unknown names become "***".
func MaskName(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 || name == PlaceholderPatientName {
		return "***"
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		b.WriteByte(' ')
		b.WriteString(strings.ToUpper(string([]rune(p)[0])))
		b.WriteByte('.')
	}
	return b.String()
}
