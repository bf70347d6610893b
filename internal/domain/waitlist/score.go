package waitlist

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// Multipliers in tenths. A judicial order overrides the clinical priority;
// the rules are selected, never combined.
const (
	judicialTenths  = 990
	expeditedTenths = 15
	oncologicTenths = 13
	standardTenths  = 10
)

// Score is the derived priority of one entry at one point in time.
type Score struct {
	DaysWaited    int     `json:"days_waited"`
	PriorityScore float64 `json:"priority_score"`
	Multiplier    float64 `json:"multiplier"`
	Urgent        bool    `json:"urgent"`
	Oncologic     bool    `json:"oncologic"`
	Judicial      bool    `json:"judicial"`
	FutureDated   bool    `json:"future_dated,omitempty"`

	tenths int64
}

// Category returns the single class that drove the multiplier.
func (s Score) Category() string {
	switch {
	case s.Judicial:
		return "judicial"
	case s.Urgent:
		return "expedited"
	case s.Oncologic:
		return "oncologic"
	}
	return "standard"
}

// ComputeScore derives days waited and priority score for e as of now.
// It never reads the clock.
func ComputeScore(e *Entry, now time.Time) (Score, error) {
	if e.EntryDate.IsZero() {
		return Score{}, fmt.Errorf("%w: entry %d has no entry date", ErrInvalidEntryData, e.ID)
	}
	if !e.Priority.Valid() {
		return Score{}, fmt.Errorf("%w: entry %d has unknown priority %q", ErrInvalidEntryData, e.ID, e.Priority)
	}

	var s Score
	if days := calendarDays(e.EntryDate, now); days < 0 {
		s.FutureDated = true
	} else {
		s.DaysWaited = days
	}

	s.Urgent = e.Priority == PriorityExpedited
	s.Oncologic = e.Priority == PriorityOncologic
	s.Judicial = e.JudicialOrder

	m := multiplierTenths(e)
	s.tenths = int64(s.DaysWaited) * m
	s.Multiplier = float64(m) / 10
	s.PriorityScore = float64(s.tenths) / 10
	return s, nil
}

// calendarDays counts whole calendar days from the entry date to the civil
// date of now in now's location.
func calendarDays(entryDate, now time.Time) int {
	ey, em, ed := entryDate.Date()
	ny, nm, nd := now.Date()
	from := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	to := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from) / day)
}

func multiplierTenths(e *Entry) int64 {
	switch {
	case e.JudicialOrder:
		return judicialTenths
	case e.Priority == PriorityExpedited:
		return expeditedTenths
	case e.Priority == PriorityOncologic:
		return oncologicTenths
	}
	return standardTenths
}
