package billing

import (
	"fmt"
	"time"
)

// Cadence represents how often a package fee is billed.
type Cadence string

const (
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceAnnual    Cadence = "annual"
	CadenceOneTime   Cadence = "one_time"
)

// Valid reports whether the cadence is one of the known values.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceMonthly, CadenceQuarterly, CadenceAnnual, CadenceOneTime:
		return true
	}
	return false
}

// Period is a billing period window. Start identifies the period for
// duplicate detection; End is inclusive of the last day.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Key returns the canonical period key used in invoice numbers and
// uniqueness checks.
func (p Period) Key() string {
	return p.Start.Format("2006-01-02")
}

// PeriodFor computes the billing period containing today for this cadence.
// For one_time cadences the engagement validity window is the period, so
// callers pass it in via windowStart/windowEnd; the other cadences ignore
// those arguments.
func (c Cadence) PeriodFor(today time.Time, windowStart, windowEnd time.Time) (Period, error) {
	today = today.UTC()
	y, m, d := today.Date()
	_ = d
	switch c {
	case CadenceMonthly:
		start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: start, End: start.AddDate(0, 1, -1)}, nil
	case CadenceQuarterly:
		qm := time.Month(((int(m)-1)/3)*3 + 1)
		start := time.Date(y, qm, 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: start, End: start.AddDate(0, 3, -1)}, nil
	case CadenceAnnual:
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		return Period{Start: start, End: time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)}, nil
	case CadenceOneTime:
		if windowStart.IsZero() {
			return Period{}, fmt.Errorf("one_time cadence requires an engagement window")
		}
		return Period{Start: windowStart.UTC(), End: windowEnd.UTC()}, nil
	default:
		return Period{}, fmt.Errorf("unknown cadence %q", c)
	}
}
