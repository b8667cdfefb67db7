package analytics

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

// --- Mock implementations ---

type mockRepo struct {
	mu        sync.Mutex
	visits    map[time.Time]*VisitAggregates
	orders    map[time.Time]*OrderStats
	clicks    map[Partner]int64
	visitErr  error
	ranges    []Range
	clickErrs map[Partner]error
}

func (m *mockRepo) VisitAggregates(_ context.Context, r Range) (*VisitAggregates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranges = append(m.ranges, r)
	if m.visitErr != nil {
		return nil, m.visitErr
	}
	if a, ok := m.visits[r.Start]; ok {
		return a, nil
	}
	return &VisitAggregates{}, nil
}

func (m *mockRepo) ClickCount(_ context.Context, p Partner, _ Range) (int64, error) {
	if err := m.clickErrs[p]; err != nil {
		return 0, err
	}
	return m.clicks[p], nil
}

func (m *mockRepo) OrderStats(_ context.Context, r Range) (*OrderStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[r.Start]; ok {
		return o, nil
	}
	return &OrderStats{Revenue: decimal.Zero}, nil
}

type mockRecorder struct {
	hits   []Hit
	clicks []Click
	emails []string
	err    error
}

func (m *mockRecorder) RecordHit(_ context.Context, h Hit) (bool, error) {
	m.hits = append(m.hits, h)
	return len(m.hits) == 1, m.err
}

func (m *mockRecorder) RecordClick(_ context.Context, c Click) error {
	m.clicks = append(m.clicks, c)
	return m.err
}

func (m *mockRecorder) Subscribe(_ context.Context, email string) (bool, error) {
	m.emails = append(m.emails, email)
	return true, m.err
}

// --- Helpers ---

var testNow = time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	s := NewService(repo, noop.NewTracerProvider())
	s.now = func() time.Time { return testNow }
	return s
}

// --- Tests ---

func TestCalcGrowth(t *testing.T) {
	tests := []struct {
		cur, prev, want float64
	}{
		{0, 0, 0},
		{10, 0, 100},
		{150, 100, 50},
		{50, 100, -50},
		{100, 100, 0},
		{1, 3, -66.7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalcGrowth(tt.cur, tt.prev), "calcGrowth(%v, %v)", tt.cur, tt.prev)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		q         Query
		wantStart time.Time
		wantEnd   time.Time
		wantAll   bool
	}{
		{
			name:      "today",
			q:         Query{Period: PeriodToday},
			wantStart: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			wantEnd:   testNow,
		},
		{
			name:      "week",
			q:         Query{Period: PeriodWeek},
			wantStart: testNow.AddDate(0, 0, -7),
			wantEnd:   testNow,
		},
		{
			name:      "default is month",
			q:         Query{},
			wantStart: testNow.AddDate(0, 0, -30),
			wantEnd:   testNow,
		},
		{
			name:      "year",
			q:         Query{Period: PeriodYear},
			wantStart: time.Date(2023, 6, 15, 14, 30, 0, 0, time.UTC),
			wantEnd:   testNow,
		},
		{
			name:    "all",
			q:       Query{Period: PeriodAll},
			wantAll: true,
		},
		{
			name:      "explicit dates with inclusive end",
			q:         Query{Period: PeriodWeek, Start: "2024-05-01", End: "2024-05-31"},
			wantStart: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "single day",
			q:         Query{Start: "2024-05-01", End: "2024-05-01"},
			wantStart: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Resolve(tt.q, testNow)
			require.NoError(t, err)
			if tt.wantAll {
				assert.True(t, r.All)
				_, ok := r.Previous()
				assert.False(t, ok)
				return
			}
			assert.Equal(t, tt.wantStart, r.Start)
			assert.Equal(t, tt.wantEnd, r.End)

			prev, ok := r.Previous()
			require.True(t, ok)
			assert.Equal(t, r.Start, prev.End)
			assert.Equal(t, r.Duration(), prev.Duration())
		})
	}
}

func TestResolve_Invalid(t *testing.T) {
	for _, q := range []Query{
		{Period: "fortnight"},
		{Start: "05/01/2024"},
		{End: "2024-13-01"},
		{Start: "2024-06-10", End: "2024-06-01"},
	} {
		_, err := Resolve(q, testNow)
		assert.ErrorIs(t, err, ErrInvalidQuery, "query %+v", q)
	}
}

func TestBucketReferrer(t *testing.T) {
	tests := map[string]string{
		"":                                     ReferrerDirect,
		"https://www.google.com/search?q=psa":  ReferrerGoogle,
		"https://news.google.co.uk/":           ReferrerGoogle,
		"https://m.facebook.com/groups/cards":  ReferrerFacebook,
		"https://l.facebook.com/l.php":         ReferrerFacebook,
		"https://www.instagram.com/":           ReferrerInstagram,
		"https://t.co/abc":                     ReferrerTwitter,
		"https://twitter.com/someone":          ReferrerTwitter,
		"https://www.whatnot.com/live/123":     ReferrerWhatnot,
		"https://www.ebay.com/itm/1":           ReferrerEbay,
		"https://duckduckgo.com/":              ReferrerOther,
		"google":                               ReferrerGoogle,
	}
	for ref, want := range tests {
		assert.Equal(t, want, BucketReferrer(ref), "referrer %q", ref)
	}
}

func TestDerive(t *testing.T) {
	a := &VisitAggregates{
		Total:         10,
		Unique:        7,
		AvgPages:      2.345,
		AvgTimeOnSite: 95.06,
		Bounces:       4,
		LongSessions:  1,
		MultiPage:     6,
		ByHour:        []HourCount{{Hour: 9, Visits: 3}, {Hour: 14, Visits: 6}, {Hour: 23, Visits: 1}},
		ByReferrer: []ReferrerCount{
			{Referrer: "", Visits: 4},
			{Referrer: "https://www.google.com/", Visits: 3},
			{Referrer: "https://google.de/", Visits: 2},
			{Referrer: "https://bing.com/", Visits: 1},
		},
	}

	s := Derive(a)
	assert.Equal(t, 40.0, s.BounceRate)
	assert.Equal(t, 10.0, s.LongSessionRate)
	assert.Equal(t, 60.0, s.MultiPageRate)
	assert.Equal(t, 2.3, s.AvgPages)
	assert.Equal(t, 95.1, s.AvgTimeOnSite)

	require.Len(t, s.Hourly, 24)
	var sum int64
	for _, v := range s.Hourly {
		sum += v
	}
	assert.Equal(t, a.Total, sum)
	assert.Equal(t, int64(6), s.Hourly[14])
	assert.Zero(t, s.Hourly[0])

	require.Len(t, s.Referrers, len(ReferrerBuckets))
	byName := map[string]int64{}
	for _, r := range s.Referrers {
		byName[r.Name] = r.Count
	}
	assert.Equal(t, int64(5), byName[ReferrerGoogle])
	assert.Equal(t, int64(4), byName[ReferrerDirect])
	assert.Equal(t, int64(1), byName[ReferrerOther])
	assert.Zero(t, byName[ReferrerEbay])
}

func TestDerive_Empty(t *testing.T) {
	s := Derive(&VisitAggregates{})
	assert.Zero(t, s.BounceRate)
	assert.Len(t, s.Referrers, len(ReferrerBuckets))
}

func TestReport_Compare(t *testing.T) {
	cur, err := Resolve(Query{Period: PeriodWeek}, testNow)
	require.NoError(t, err)
	prev, _ := cur.Previous()

	repo := &mockRepo{
		visits: map[time.Time]*VisitAggregates{
			cur.Start:  {Total: 150, Unique: 90, ByHour: []HourCount{{Hour: 1, Visits: 150}}},
			prev.Start: {Total: 100, Unique: 90},
		},
		orders: map[time.Time]*OrderStats{
			cur.Start:  {Count: 4, Revenue: decimal.RequireFromString("100")},
			prev.Start: {Count: 0, Revenue: decimal.Zero},
		},
		clicks: map[Partner]int64{PartnerEbay: 3, PartnerWhatnot: 4},
	}
	svc := newTestService(repo)

	r, err := svc.Report(context.Background(), Query{Period: PeriodWeek, Compare: true})
	require.NoError(t, err)
	assert.False(t, r.Fallback)
	assert.Equal(t, int64(150), r.Current.TotalVisits)
	require.NotNil(t, r.Previous)
	assert.Equal(t, int64(100), r.Previous.TotalVisits)
	require.NotNil(t, r.Growth)
	assert.Equal(t, 50.0, r.Growth.Visits)
	assert.Equal(t, 0.0, r.Growth.UniqueVisitors)
	assert.Equal(t, 100.0, r.Growth.Orders)
	assert.Equal(t, int64(7), r.Clicks.Total())
	assert.Equal(t, int64(4), r.Orders.Count)
	assert.Len(t, repo.ranges, 2)
}

func TestReport_RangeIsUTC(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, noop.NewTracerProvider())

	r, err := svc.Report(context.Background(), Query{Start: "2024-06-01", End: "2024-06-02"})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, r.GeneratedAt.Location())
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), r.Range.Start)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), r.Range.End)
}

func TestReport_NoCompare(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo)

	r, err := svc.Report(context.Background(), Query{Period: PeriodMonth})
	require.NoError(t, err)
	assert.Nil(t, r.Previous)
	assert.Nil(t, r.Growth)
	assert.Len(t, repo.ranges, 1)
}

func TestReport_AllHasZeroGrowth(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo)

	r, err := svc.Report(context.Background(), Query{Period: PeriodAll, Compare: true})
	require.NoError(t, err)
	assert.Nil(t, r.Previous)
	require.NotNil(t, r.Growth)
	assert.Equal(t, Growth{}, *r.Growth)
	assert.Len(t, repo.ranges, 1)
}

func TestReport_FallbackOnFailure(t *testing.T) {
	tests := []struct {
		name string
		repo *mockRepo
	}{
		{"visits query fails", &mockRepo{visitErr: errors.New("relation does not exist")}},
		{"click query fails", &mockRepo{clickErrs: map[Partner]error{PartnerWhatnot: errors.New("timeout")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.repo)

			r, err := svc.Report(context.Background(), Query{Period: PeriodToday, Compare: true})
			require.NoError(t, err)
			assert.True(t, r.Fallback)
			assert.NotNil(t, r.Growth)

			var sum int64
			for _, v := range r.Current.Hourly {
				sum += v
			}
			assert.Equal(t, r.Current.TotalVisits, sum)
		})
	}
}

func TestReport_InvalidQuery(t *testing.T) {
	svc := newTestService(&mockRepo{})

	_, err := svc.Report(context.Background(), Query{Period: "decade"})
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestTracker_Track(t *testing.T) {
	rec := &mockRecorder{}
	tr := NewTracker(rec)

	created, err := tr.Track(context.Background(), Hit{SessionID: "s1", Page: "", TimeOnSite: -5})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = tr.Track(context.Background(), Hit{SessionID: "s1", Page: "/cards", TimeOnSite: 1 << 30})
	require.NoError(t, err)
	assert.False(t, created)

	require.Len(t, rec.hits, 2)
	assert.Equal(t, "/", rec.hits[0].Page)
	assert.Zero(t, rec.hits[0].TimeOnSite)
	assert.Equal(t, maxTimeOnSiteSec, rec.hits[1].TimeOnSite)

	_, err = tr.Track(context.Background(), Hit{})
	require.Error(t, err)
}

func TestClip(t *testing.T) {
	long := strings.Repeat("a", maxFieldLen-1) + "é" + "tail"
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "  /cards  ", "/cards"},
		{"invalid bytes dropped", "/cards\xff\xfe?set=base", "/cards?set=base"},
		{"lone continuation byte", "Mozilla\x80/5.0", "Mozilla/5.0"},
		{"cut on rune boundary", long, strings.Repeat("a", maxFieldLen-1)},
		{"invalid then long", "\xc3" + strings.Repeat("b", maxFieldLen+10), strings.Repeat("b", maxFieldLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clip(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), maxFieldLen)
		})
	}
}

func TestTracker_Click(t *testing.T) {
	rec := &mockRecorder{}
	tr := NewTracker(rec)

	require.NoError(t, tr.Click(context.Background(), "eBay", "10.0.0.1", "https://ebay.com/itm/1"))
	require.Len(t, rec.clicks, 1)
	assert.Equal(t, PartnerEbay, rec.clicks[0].Partner)

	err := tr.Click(context.Background(), "amazon", "10.0.0.1", "https://amazon.com")
	require.ErrorIs(t, err, ErrUnknownPartner)
}

func TestTracker_Subscribe(t *testing.T) {
	rec := &mockRecorder{}
	tr := NewTracker(rec)

	_, err := tr.Subscribe(context.Background(), "  Misty@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, []string{"misty@example.com"}, rec.emails)

	for _, bad := range []string{"", "nope", "Misty <misty@example.com>"} {
		_, err := tr.Subscribe(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidEmail, "email %q", bad)
	}
}
