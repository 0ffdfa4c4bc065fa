// Package fiscal computes the April-start financial year window that every
// donation aggregate is measured against.
package fiscal

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// StartMonth is the first month of a financial year.
const StartMonth = time.April

// GraceDays is how many days into April still count as the prior
// financial year.
const GraceDays = 7

// Window is the financial year a run reports on.
type Window struct {
	Year  int        // calendar year in which the financial year starts
	Start civil.Date // April 1 of Year
	End   civil.Date // March 31 of Year+1
	Today civil.Date
}

// MonthRange is one calendar month of a financial year.
type MonthRange struct {
	Year  int
	Month time.Month
	First civil.Date
	Last  civil.Date
}

// WindowAt returns the window for the wall-clock time now in loc.
func WindowAt(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	return WindowFor(civil.DateOf(now.In(loc)))
}

// WindowFor returns the window containing today, with the first
// GraceDays of April still attributed to the previous financial year.
func WindowFor(today civil.Date) Window {
	year := today.Year
	switch {
	case today.Month < StartMonth:
		year--
	case today.Month == StartMonth && today.Day <= GraceDays:
		year--
	}
	return Window{
		Year:  year,
		Start: civil.Date{Year: year, Month: StartMonth, Day: 1},
		End:   civil.Date{Year: year + 1, Month: StartMonth, Day: 1}.AddDays(-1),
		Today: today,
	}
}

// Label renders the window as "2024-25".
func (w Window) Label() string {
	return fmt.Sprintf("%d-%02d", w.Year, (w.Year+1)%100)
}

// WeekStart is the first day of the trailing seven-day window, inclusive.
func (w Window) WeekStart() civil.Date {
	return w.Today.AddDays(-7)
}

// Months lists the twelve months of the financial year from April to March.
func (w Window) Months() []MonthRange {
	months := make([]MonthRange, 0, 12)
	for i := 0; i < 12; i++ {
		first := civil.Date{Year: w.Year, Month: StartMonth, Day: 1}
		t := first.In(time.UTC).AddDate(0, i, 0)
		months = append(months, MonthRange{
			Year:  t.Year(),
			Month: t.Month(),
			First: civil.DateOf(t),
			Last:  civil.DateOf(t.AddDate(0, 1, -1)),
		})
	}
	return months
}

// MonthOf returns the month range containing d.
func MonthOf(d civil.Date) MonthRange {
	t := civil.Date{Year: d.Year, Month: d.Month, Day: 1}.In(time.UTC)
	return MonthRange{
		Year:  d.Year,
		Month: d.Month,
		First: civil.DateOf(t),
		Last:  civil.DateOf(t.AddDate(0, 1, -1)),
	}
}

// OnOrAfter reports whether a is the same day as b or later.
func OnOrAfter(a, b civil.Date) bool {
	return !a.Before(b)
}

// OnOrBefore reports whether a is the same day as b or earlier.
func OnOrBefore(a, b civil.Date) bool {
	return !a.After(b)
}
