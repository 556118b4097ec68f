// Package periods models the reporting periods a financial value can be
// attached to: fiscal years, fiscal quarters, year-to-date spans, and
// trailing-twelve-month windows. Annual and quarterly periods are sourced
// directly from filings; YTD and LTM are always derived by the engine.
package periods

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the flavor of a period.
type Kind int

const (
	KindAnnual Kind = iota
	KindQuarter
	KindYTD
	KindLTM
)

// String returns the kind name used in lineage output.
func (k Kind) String() string {
	switch k {
	case KindAnnual:
		return "annual"
	case KindQuarter:
		return "quarter"
	case KindYTD:
		return "ytd"
	case KindLTM:
		return "ltm"
	}
	return "unknown"
}

// Period is a tagged union over the four period kinds. Quarter is zero for
// Annual and LTM periods.
type Period struct {
	Kind    Kind `json:"kind"`
	Year    int  `json:"year"`
	Quarter int  `json:"quarter,omitempty"`
}

// Annual returns the fiscal-year period for the given year.
func Annual(year int) Period {
	return Period{Kind: KindAnnual, Year: year}
}

// Quarter returns a single fiscal quarter (q in 1..4).
func Quarter(year, q int) Period {
	return Period{Kind: KindQuarter, Year: year, Quarter: q}
}

// YTD returns the cumulative span from the start of the fiscal year through
// quarter q.
func YTD(year, q int) Period {
	return Period{Kind: KindYTD, Year: year, Quarter: q}
}

// LTM returns the trailing-twelve-month window ending in the given year.
func LTM(year int) Period {
	return Period{Kind: KindLTM, Year: year}
}

// Derived reports whether the period is computed by the engine rather than
// sourced from a filing.
func (p Period) Derived() bool {
	return p.Kind == KindYTD || p.Kind == KindLTM
}

// Label renders the period the way it appears as a result-table column and
// as a lineage log key: "2024", "Q1 2025", "YTD 2025", "LTM 2025".
func (p Period) Label() string {
	switch p.Kind {
	case KindAnnual:
		return strconv.Itoa(p.Year)
	case KindQuarter:
		return fmt.Sprintf("Q%d %d", p.Quarter, p.Year)
	case KindYTD:
		return fmt.Sprintf("YTD %d", p.Year)
	case KindLTM:
		return fmt.Sprintf("LTM %d", p.Year)
	}
	return ""
}

// String implements fmt.Stringer.
func (p Period) String() string { return p.Label() }

// Before orders two periods of the same kind chronologically. Ordering
// across kinds is by year first, then by kind (annual < quarter < ytd < ltm)
// so a sorted column list reads naturally.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	if p.Kind != o.Kind {
		return p.Kind < o.Kind
	}
	return p.Quarter < o.Quarter
}

var quarterEndDate = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)

// FromColumn classifies a tabular column label into a period. Annual
// extracts carry bare years ("2024"); quarterly extracts carry period-end
// dates ("2025-03-31"). Dates map onto calendar quarter ends; a date that is
// not a recognized quarter end falls into the quarter its month belongs to.
func FromColumn(label string) (Period, bool) {
	label = strings.TrimSpace(label)
	if y, err := strconv.Atoi(label); err == nil && y >= 1900 && y <= 2999 {
		return Annual(y), true
	}
	m := quarterEndDate.FindStringSubmatch(label)
	if m == nil {
		return Period{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return Period{}, false
	}
	q := (month-1)/3 + 1
	return Quarter(year, q), true
}

// QuarterEnd returns the conventional calendar period-end date for a
// quarterly period, matching the column labels quarterly extracts use.
func (p Period) QuarterEnd() string {
	if p.Kind != KindQuarter && p.Kind != KindYTD {
		return ""
	}
	ends := [...]string{"03-31", "06-30", "09-30", "12-31"}
	if p.Quarter < 1 || p.Quarter > 4 {
		return ""
	}
	return fmt.Sprintf("%d-%s", p.Year, ends[p.Quarter-1])
}
