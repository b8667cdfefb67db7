// Package analytics computes the back-office traffic dashboard and records
// storefront visits, partner clicks and newsletter sign-ups.
package analytics

import (
	"time"

	"github.com/go-faster/errors"
)

// Period selects the reporting window.
type Period string

const (
	PeriodToday   Period = "today"
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
	PeriodAll     Period = "all"
	PeriodCustom  Period = "custom"
)

// DateLayout is the format of explicit start and end dates.
const DateLayout = "2006-01-02"

// ErrInvalidQuery is returned for an unknown period or malformed dates.
var ErrInvalidQuery = errors.New("invalid analytics query")

// Query is an analytics request.
type Query struct {
	Period  Period
	Start   string
	End     string
	Compare bool
}

// Range is a half-open time interval [Start, End). An All range is unbounded.
type Range struct {
	Start time.Time
	End   time.Time
	All   bool
}

// Duration returns the length of a bounded range.
func (r Range) Duration() time.Duration {
	if r.All {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Previous returns the range of equal length immediately before r.
func (r Range) Previous() (Range, bool) {
	if r.All {
		return Range{}, false
	}
	return Range{Start: r.Start.Add(-r.Duration()), End: r.Start}, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Resolve turns a query into the current reporting range. Explicit dates win
// over the named period; the end date is inclusive. An empty period means
// month.
func Resolve(q Query, now time.Time) (Range, error) {
	if q.Start != "" || q.End != "" {
		return resolveDates(q, now)
	}

	switch q.Period {
	case PeriodToday:
		return Range{Start: startOfDay(now), End: now}, nil
	case PeriodWeek:
		return Range{Start: now.AddDate(0, 0, -7), End: now}, nil
	case PeriodMonth, "":
		return Range{Start: now.AddDate(0, 0, -30), End: now}, nil
	case PeriodQuarter:
		return Range{Start: now.AddDate(0, 0, -90), End: now}, nil
	case PeriodYear:
		return Range{Start: now.AddDate(-1, 0, 0), End: now}, nil
	case PeriodAll:
		return Range{All: true}, nil
	default:
		return Range{}, errors.Wrapf(ErrInvalidQuery, "unknown period %q", q.Period)
	}
}

func resolveDates(q Query, now time.Time) (Range, error) {
	loc := now.Location()
	end := startOfDay(now).AddDate(0, 0, 1)
	if q.End != "" {
		t, err := time.ParseInLocation(DateLayout, q.End, loc)
		if err != nil {
			return Range{}, errors.Wrapf(ErrInvalidQuery, "end_date %q", q.End)
		}
		end = t.AddDate(0, 0, 1)
	}
	start := end.AddDate(0, 0, -30)
	if q.Start != "" {
		t, err := time.ParseInLocation(DateLayout, q.Start, loc)
		if err != nil {
			return Range{}, errors.Wrapf(ErrInvalidQuery, "start_date %q", q.Start)
		}
		start = t
	}
	if !start.Before(end) {
		return Range{}, errors.Wrap(ErrInvalidQuery, "start_date is after end_date")
	}
	return Range{Start: start, End: end}, nil
}
