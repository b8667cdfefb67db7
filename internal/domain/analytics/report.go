package analytics

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Referrer buckets in display order.
const (
	ReferrerGoogle    = "google"
	ReferrerFacebook  = "facebook"
	ReferrerInstagram = "instagram"
	ReferrerTwitter   = "twitter"
	ReferrerWhatnot   = "whatnot"
	ReferrerEbay      = "ebay"
	ReferrerDirect    = "direct"
	ReferrerOther     = "other"
)

// ReferrerBuckets lists every bucket a referrer can fall into.
var ReferrerBuckets = []string{
	ReferrerGoogle,
	ReferrerFacebook,
	ReferrerInstagram,
	ReferrerTwitter,
	ReferrerWhatnot,
	ReferrerEbay,
	ReferrerDirect,
	ReferrerOther,
}

var referrerHosts = []struct {
	bucket string
	hosts  []string
}{
	{ReferrerGoogle, []string{"google."}},
	{ReferrerFacebook, []string{"facebook.", "fb.com", "fb.me"}},
	{ReferrerInstagram, []string{"instagram."}},
	{ReferrerTwitter, []string{"twitter.", "t.co", "x.com"}},
	{ReferrerWhatnot, []string{"whatnot."}},
	{ReferrerEbay, []string{"ebay."}},
}

// BucketReferrer classifies a raw referrer URL.
func BucketReferrer(ref string) string {
	ref = strings.TrimSpace(strings.ToLower(ref))
	if ref == "" {
		return ReferrerDirect
	}
	host := ref
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	for _, rh := range referrerHosts {
		for _, h := range rh.hosts {
			if strings.HasPrefix(host, h) || strings.Contains(host, "."+h) || host == strings.TrimSuffix(h, ".") {
				return rh.bucket
			}
		}
	}
	return ReferrerOther
}

// HourCount is the number of visits that started in an hour of the day.
type HourCount struct {
	Hour   int
	Visits int64
}

// ReferrerCount is the number of visits with a given raw referrer.
type ReferrerCount struct {
	Referrer string
	Visits   int64
}

// DailyCount is the number of visits on a calendar day.
type DailyCount struct {
	Date   time.Time
	Visits int64
}

// VisitAggregates are the raw visit figures for a range, as counted by the
// store.
type VisitAggregates struct {
	Total         int64
	Unique        int64
	AvgPages      float64
	AvgTimeOnSite float64
	Bounces       int64
	LongSessions  int64
	MultiPage     int64
	ByHour        []HourCount
	ByReferrer    []ReferrerCount
	ByDay         []DailyCount
}

// NamedCount is one entry of an ordered breakdown.
type NamedCount struct {
	Name  string
	Count int64
}

// VisitStats are the derived dashboard figures for a range.
type VisitStats struct {
	TotalVisits     int64
	UniqueVisitors  int64
	AvgPages        float64
	AvgTimeOnSite   float64
	BounceRate      float64
	LongSessionRate float64
	MultiPageRate   float64
	// Hourly always has 24 entries, hour 0 first.
	Hourly    [24]int64
	Referrers []NamedCount
	Daily     []DailyCount
}

// OrderStats summarize orders placed within a range.
type OrderStats struct {
	Count    int64
	Revenue  decimal.Decimal
	ByStatus []NamedCount
}

// Clicks are outbound partner clicks within a range.
type Clicks struct {
	Ebay    int64
	Whatnot int64
}

// Total returns the sum of all partner clicks.
func (c Clicks) Total() int64 {
	return c.Ebay + c.Whatnot
}

// Growth is the period-over-period change of headline figures, in percent.
type Growth struct {
	Visits         float64
	UniqueVisitors float64
	AvgPages       float64
	AvgTimeOnSite  float64
	Orders         float64
	Revenue        float64
}

// Report is the analytics dashboard payload.
type Report struct {
	Query    Query
	Range    Range
	Current  VisitStats
	Previous *VisitStats
	Growth   *Growth
	Clicks   Clicks
	Orders   OrderStats
	// Fallback marks a canned dataset returned because the store failed.
	Fallback    bool
	GeneratedAt time.Time
}

// Partner identifies an outbound marketplace link.
type Partner string

const (
	PartnerEbay    Partner = "ebay"
	PartnerWhatnot Partner = "whatnot"
)

// ParsePartner validates a partner name.
func ParsePartner(s string) (Partner, bool) {
	switch p := Partner(strings.ToLower(s)); p {
	case PartnerEbay, PartnerWhatnot:
		return p, true
	}
	return "", false
}

// Repository runs the aggregate queries behind the dashboard.
type Repository interface {
	VisitAggregates(ctx context.Context, r Range) (*VisitAggregates, error)
	// ClickCount returns 0 when the partner's click table does not exist.
	ClickCount(ctx context.Context, p Partner, r Range) (int64, error)
	OrderStats(ctx context.Context, r Range) (*OrderStats, error)
}

// CalcGrowth returns (cur − prev) / prev × 100, with 100 for growth from
// zero and 0 when both are zero.
func CalcGrowth(cur, prev float64) float64 {
	if prev == 0 {
		if cur > 0 {
			return 100
		}
		return 0
	}
	return round1((cur - prev) / prev * 100)
}

func round1(v float64) float64 {
	d := decimal.NewFromFloat(v).Round(1)
	f, _ := d.Float64()
	return f
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(part) / float64(total) * 100)
}

// Derive computes rates, the zero-filled hourly histogram and referrer
// buckets from raw aggregates.
func Derive(a *VisitAggregates) VisitStats {
	s := VisitStats{
		TotalVisits:     a.Total,
		UniqueVisitors:  a.Unique,
		AvgPages:        round1(a.AvgPages),
		AvgTimeOnSite:   round1(a.AvgTimeOnSite),
		BounceRate:      rate(a.Bounces, a.Total),
		LongSessionRate: rate(a.LongSessions, a.Total),
		MultiPageRate:   rate(a.MultiPage, a.Total),
		Daily:           a.ByDay,
	}
	for _, h := range a.ByHour {
		if h.Hour >= 0 && h.Hour < len(s.Hourly) {
			s.Hourly[h.Hour] += h.Visits
		}
	}

	counts := make(map[string]int64, len(ReferrerBuckets))
	for _, r := range a.ByReferrer {
		counts[BucketReferrer(r.Referrer)] += r.Visits
	}
	s.Referrers = make([]NamedCount, len(ReferrerBuckets))
	for i, b := range ReferrerBuckets {
		s.Referrers[i] = NamedCount{Name: b, Count: counts[b]}
	}
	return s
}

func growth(cur, prev *VisitStats, curOrders, prevOrders *OrderStats) *Growth {
	g := &Growth{
		Visits:         CalcGrowth(float64(cur.TotalVisits), float64(prev.TotalVisits)),
		UniqueVisitors: CalcGrowth(float64(cur.UniqueVisitors), float64(prev.UniqueVisitors)),
		AvgPages:       CalcGrowth(cur.AvgPages, prev.AvgPages),
		AvgTimeOnSite:  CalcGrowth(cur.AvgTimeOnSite, prev.AvgTimeOnSite),
	}
	if curOrders != nil && prevOrders != nil {
		g.Orders = CalcGrowth(float64(curOrders.Count), float64(prevOrders.Count))
		cr, _ := curOrders.Revenue.Float64()
		pr, _ := prevOrders.Revenue.Float64()
		g.Revenue = CalcGrowth(cr, pr)
	}
	return g
}
