package waitlist

import (
	"fmt"
	"sort"
	"time"
)

// ScoredEntry pairs an entry with the score computed for it at ScoredAt.
type ScoredEntry struct {
	Entry    *Entry
	Score    Score
	ScoredAt time.Time
}

// RankedEntry is a scored entry with its queue position. Position is nil for
// removed entries and for entries excluded by a data issue.
type RankedEntry struct {
	Entry    *Entry
	Score    Score
	Position *int
	// Issue is set when the entry has a data problem. Only Get fills it.
	Issue *DataIssue
}

// Rank orders the active entries by priority score (desc), entry date (asc)
// and id (asc), and numbers them from 1. Removed entries follow unpositioned,
// in id order. The input slice is left untouched.
func Rank(scored []ScoredEntry) ([]RankedEntry, error) {
	for i := 1; i < len(scored); i++ {
		if !scored[i].ScoredAt.Equal(scored[0].ScoredAt) {
			return nil, fmt.Errorf("%w: entry %d scored at %s, entry %d at %s", ErrInconsistentSnapshot,
				scored[0].Entry.ID, scored[0].ScoredAt.Format(time.RFC3339),
				scored[i].Entry.ID, scored[i].ScoredAt.Format(time.RFC3339))
		}
	}
	return rank(scored), nil
}

func rank(scored []ScoredEntry) []RankedEntry {
	var active, removed []ScoredEntry
	for _, s := range scored {
		if s.Entry.Active() {
			active = append(active, s)
		} else {
			removed = append(removed, s)
		}
	}

	sort.Slice(active, func(i, j int) bool { return ahead(active[i], active[j]) })
	sort.Slice(removed, func(i, j int) bool { return removed[i].Entry.ID < removed[j].Entry.ID })

	out := make([]RankedEntry, 0, len(scored))
	for i, s := range active {
		pos := i + 1
		out = append(out, RankedEntry{Entry: s.Entry, Score: s.Score, Position: &pos})
	}
	for _, s := range removed {
		out = append(out, RankedEntry{Entry: s.Entry, Score: s.Score})
	}
	return out
}

// ahead reports whether a takes a better queue position than b.
func ahead(a, b ScoredEntry) bool {
	if a.Score.tenths != b.Score.tenths {
		return a.Score.tenths > b.Score.tenths
	}
	if !a.Entry.EntryDate.Equal(b.Entry.EntryDate) {
		return a.Entry.EntryDate.Before(b.Entry.EntryDate)
	}
	return a.Entry.ID < b.Entry.ID
}

// Queue is a ranked snapshot of the waiting list.
type Queue struct {
	AsOf    time.Time     `json:"as_of"`
	Entries []RankedEntry `json:"entries"`
	Issues  []DataIssue   `json:"issues"`
}

// BuildQueue validates, scores and ranks entries against a single now.
// Entries that cannot be scored are left out of Entries and reported in
// Issues; they never abort the rest of the queue.
func BuildQueue(entries []*Entry, now time.Time) *Queue {
	q := &Queue{AsOf: now, Issues: []DataIssue{}}
	scored := make([]ScoredEntry, 0, len(entries))

	for _, e := range entries {
		s, issue := assess(e, now)
		if issue != nil {
			q.Issues = append(q.Issues, *issue)
			if issue.Excluded {
				continue
			}
		}
		scored = append(scored, ScoredEntry{Entry: e, Score: s, ScoredAt: now})
	}

	q.Entries = rank(scored)
	return q
}

// assess validates and scores e as of now. A nil issue means e is clean; an
// excluded issue means e cannot be ranked and the score is zero.
func assess(e *Entry, now time.Time) (Score, *DataIssue) {
	if issue, ok := validate(e); !ok {
		return Score{}, &issue
	}
	s, err := ComputeScore(e, now)
	if err != nil {
		return Score{}, &DataIssue{EntryID: e.ID, Kind: IssueInvalidEntryDate, Message: err.Error(), Excluded: true}
	}
	if s.FutureDated {
		return s, &DataIssue{
			EntryID: e.ID,
			Kind:    IssueFutureEntryDate,
			Message: fmt.Sprintf("entry date %s is after %s; counted as 0 days", e.EntryDate.Format("2006-01-02"), now.Format("2006-01-02")),
		}
	}
	return s, nil
}

func validate(e *Entry) (DataIssue, bool) {
	switch {
	case e.Status == nil:
		return DataIssue{EntryID: e.ID, Kind: IssueInvalidStatus, Message: "active flag and exit reason disagree", Excluded: true}, false
	case e.EntryDate.IsZero():
		return DataIssue{EntryID: e.ID, Kind: IssueInvalidEntryDate, Message: "entry date is missing", Excluded: true}, false
	case !e.Priority.Valid():
		return DataIssue{EntryID: e.ID, Kind: IssueInvalidPriority, Message: fmt.Sprintf("unknown priority %q", e.Priority), Excluded: true}, false
	}
	return DataIssue{}, true
}

// Active returns the positioned entries, best position first.
func (q *Queue) Active() []RankedEntry {
	n := 0
	for n < len(q.Entries) && q.Entries[n].Position != nil {
		n++
	}
	return q.Entries[:n]
}

// Find returns the ranked entry with the given id.
func (q *Queue) Find(id int64) (RankedEntry, bool) {
	for _, r := range q.Entries {
		if r.Entry.ID == id {
			return r, true
		}
	}
	return RankedEntry{}, false
}

// IssueFor returns the data issue reported for id, if any.
func (q *Queue) IssueFor(id int64) *DataIssue {
	for i := range q.Issues {
		if q.Issues[i].EntryID == id {
			issue := q.Issues[i]
			return &issue
		}
	}
	return nil
}

// ExcludedCount is the number of entries left out because of data issues.
func (q *Queue) ExcludedCount() int {
	n := 0
	for _, i := range q.Issues {
		if i.Excluded {
			n++
		}
	}
	return n
}
