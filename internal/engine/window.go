package engine

import (
	"strconv"
	"time"

	"hsa-planner/internal/model"
)

// window is the span of months, inclusive, in which the saver was eligible.
// An empty window has first > last.
type window struct {
	year        int
	first, last time.Month
}

func (w window) months() int {
	if w.last < w.first {
		return 0
	}
	return int(w.last-w.first) + 1
}

func (w window) start() time.Time {
	return model.Date(w.year, w.first, 1)
}

func (w window) end() time.Time {
	return monthEnd(w.year, w.last)
}

// eligibilityWindow caps the year by the enrollment month at the front and the
// termination month at the back.
func eligibilityWindow(s model.UserSnapshot, year int) window {
	w := window{year: year, first: time.January, last: time.December}

	if s.EnrollmentDate != nil {
		switch e := *s.EnrollmentDate; {
		case e.Year() > year:
			w.first = time.December + 1
		case e.Year() == year:
			w.first = e.Month()
		}
	}
	if s.TerminationDate != nil {
		switch t := *s.TerminationDate; {
		case t.Year() < year:
			w.last = 0
		case t.Year() == year:
			w.last = t.Month()
		}
	}
	return w
}

// terminatesIn reports whether the termination date falls on or before the
// end of year.
func terminatesIn(s model.UserSnapshot, year int) bool {
	return s.TerminationDate != nil && s.TerminationDate.Year() <= year
}

// enrolledInDecember reports whether coverage began in December of year.
func enrolledInDecember(s model.UserSnapshot, year int) bool {
	return s.EnrollmentDate != nil &&
		s.EnrollmentDate.Year() == year &&
		s.EnrollmentDate.Month() == time.December
}

// boundaryMonth is the first month governed by a coverage change. Coverage on
// the first day of a month decides that month, so a change after the 1st takes
// effect the following month. Returns 1 for changes before the year and 13 for
// changes after it.
func boundaryMonth(effective time.Time, year int) time.Month {
	switch {
	case effective.Year() < year:
		return time.January
	case effective.Year() > year:
		return time.December + 1
	case effective.Day() == 1:
		return effective.Month()
	default:
		return effective.Month() + 1
	}
}

func monthEnd(year int, m time.Month) time.Time {
	return model.Date(year, m+1, 1).AddDate(0, 0, -1)
}

func dateOf(t time.Time) time.Time {
	return model.Date(t.Year(), t.Month(), t.Day())
}

// filingDeadline is April 15 of the following year, moved to Monday when it
// lands on a weekend.
func filingDeadline(year int) time.Time {
	d := model.Date(year+1, time.April, 15)
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, 2)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// testingPeriodEnd is the date the last-month rule's testing period closes:
// one year and one day after the end of the contribution year.
func testingPeriodEnd(year int) time.Time {
	return model.Date(year, time.December, 31).AddDate(1, 0, 1)
}

func monthRange(year int, first, last time.Month) string {
	if first == last {
		return first.String() + " " + strconv.Itoa(year)
	}
	return first.String() + " through " + last.String() + " " + strconv.Itoa(year)
}
