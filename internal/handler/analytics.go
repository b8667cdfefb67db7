package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/cardshop/internal/domain/analytics"
)

// Analytics returns the traffic dashboard:
// ?period=&start_date=&end_date=&compare=.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := analytics.Query{
		Period: analytics.Period(q.Get("period")),
		Start:  q.Get("start_date"),
		End:    q.Get("end_date"),
	}
	if v := q.Get("compare"); v != "" {
		compare, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, &inputError{field: "compare", reason: "must be a boolean"})
			return
		}
		query.Compare = compare
	}

	rep, err := h.analytics.Report(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeReport(e, rep)
	})
}

func encodeReport(e *jx.Encoder, rep *analytics.Report) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("fallback")
	e.Bool(rep.Fallback)
	e.FieldStart("period")
	period := rep.Query.Period
	if period == "" {
		period = analytics.PeriodMonth
	}
	if rep.Query.Start != "" || rep.Query.End != "" {
		period = analytics.PeriodCustom
	}
	e.Str(string(period))

	e.FieldStart("range")
	e.ObjStart()
	if rep.Range.All {
		e.FieldStart("all")
		e.Bool(true)
	} else {
		e.FieldStart("start")
		e.Str(rep.Range.Start.UTC().Format(time.RFC3339))
		e.FieldStart("end")
		e.Str(rep.Range.End.UTC().Format(time.RFC3339))
	}
	e.ObjEnd()

	e.FieldStart("visits")
	encodeVisitStats(e, &rep.Current)
	if rep.Previous != nil {
		e.FieldStart("previous")
		encodeVisitStats(e, rep.Previous)
	}

	e.FieldStart("growth")
	if g := rep.Growth; g != nil {
		e.ObjStart()
		e.FieldStart("visits")
		e.Float64(g.Visits)
		e.FieldStart("unique_visitors")
		e.Float64(g.UniqueVisitors)
		e.FieldStart("avg_pages")
		e.Float64(g.AvgPages)
		e.FieldStart("avg_time_on_site")
		e.Float64(g.AvgTimeOnSite)
		e.FieldStart("orders")
		e.Float64(g.Orders)
		e.FieldStart("revenue")
		e.Float64(g.Revenue)
		e.ObjEnd()
	} else {
		e.Null()
	}

	e.FieldStart("clicks")
	e.ObjStart()
	e.FieldStart("ebay")
	e.Int64(rep.Clicks.Ebay)
	e.FieldStart("whatnot")
	e.Int64(rep.Clicks.Whatnot)
	e.FieldStart("total")
	e.Int64(rep.Clicks.Total())
	e.ObjEnd()

	e.FieldStart("orders")
	e.ObjStart()
	e.FieldStart("count")
	e.Int64(rep.Orders.Count)
	e.FieldStart("revenue")
	encodeMoney(e, rep.Orders.Revenue)
	e.FieldStart("by_status")
	encodeNamedCounts(e, rep.Orders.ByStatus)
	e.ObjEnd()

	e.FieldStart("generated_at")
	e.Str(rep.GeneratedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}

func encodeVisitStats(e *jx.Encoder, s *analytics.VisitStats) {
	e.ObjStart()
	e.FieldStart("total")
	e.Int64(s.TotalVisits)
	e.FieldStart("unique_visitors")
	e.Int64(s.UniqueVisitors)
	e.FieldStart("avg_pages")
	e.Float64(s.AvgPages)
	e.FieldStart("avg_time_on_site")
	e.Float64(s.AvgTimeOnSite)
	e.FieldStart("bounce_rate")
	e.Float64(s.BounceRate)
	e.FieldStart("long_session_rate")
	e.Float64(s.LongSessionRate)
	e.FieldStart("multi_page_rate")
	e.Float64(s.MultiPageRate)

	e.FieldStart("hourly")
	e.ArrStart()
	for _, v := range s.Hourly {
		e.Int64(v)
	}
	e.ArrEnd()

	e.FieldStart("referrers")
	encodeNamedCounts(e, s.Referrers)

	e.FieldStart("daily")
	e.ArrStart()
	for _, d := range s.Daily {
		e.ObjStart()
		e.FieldStart("date")
		e.Str(d.Date.Format(analytics.DateLayout))
		e.FieldStart("visits")
		e.Int64(d.Visits)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeNamedCounts(e *jx.Encoder, counts []analytics.NamedCount) {
	e.ArrStart()
	for _, c := range counts {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(c.Name)
		e.FieldStart("count")
		e.Int64(c.Count)
		e.ObjEnd()
	}
	e.ArrEnd()
}
