package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

var fallbackHourly = [24]int64{
	2, 1, 1, 0, 0, 1, 2, 4, 6, 8, 9, 10,
	12, 11, 10, 9, 10, 12, 14, 15, 13, 9, 6, 4,
}

// Fallback returns the canned dataset shown when the store is unavailable.
// Its hourly histogram sums to its visit total.
func Fallback(q Query, r Range, now time.Time) *Report {
	var total int64
	for _, v := range fallbackHourly {
		total += v
	}

	cur := VisitStats{
		TotalVisits:     total,
		UniqueVisitors:  142,
		AvgPages:        3.2,
		AvgTimeOnSite:   184.5,
		BounceRate:      38.4,
		LongSessionRate: 17.9,
		MultiPageRate:   61.6,
		Hourly:          fallbackHourly,
		Referrers: []NamedCount{
			{Name: ReferrerGoogle, Count: 42},
			{Name: ReferrerFacebook, Count: 24},
			{Name: ReferrerInstagram, Count: 19},
			{Name: ReferrerTwitter, Count: 6},
			{Name: ReferrerWhatnot, Count: 21},
			{Name: ReferrerEbay, Count: 15},
			{Name: ReferrerDirect, Count: 35},
			{Name: ReferrerOther, Count: 7},
		},
	}

	rep := &Report{
		Query:   q,
		Range:   r,
		Current: cur,
		Clicks:  Clicks{Ebay: 27, Whatnot: 18},
		Orders: OrderStats{
			Count:   12,
			Revenue: decimal.RequireFromString("486.50"),
			ByStatus: []NamedCount{
				{Name: "processing", Count: 3},
				{Name: "shipped", Count: 4},
				{Name: "delivered", Count: 5},
			},
		},
		Fallback:    true,
		GeneratedAt: now,
	}
	if q.Compare {
		rep.Growth = &Growth{Visits: 12.5, UniqueVisitors: 8.3, AvgPages: 3.1, AvgTimeOnSite: -2.4, Orders: 20, Revenue: 15.2}
	}
	return rep
}
