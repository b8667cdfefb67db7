package analytics

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service builds dashboard reports.
type Service struct {
	repo   Repository
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates an analytics Service. Ranges resolve in UTC, the zone
// the store buckets hours and days in.
func NewService(repo Repository, tp trace.TracerProvider) *Service {
	return &Service{
		repo:   repo,
		tracer: tp.Tracer("cardshop/analytics"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Report runs the independent aggregates for the current range (and, with
// Compare, the previous range of equal length) concurrently. A store failure
// never surfaces: it is logged and the canned fallback dataset is returned.
// Only an invalid query is an error.
func (s *Service) Report(ctx context.Context, q Query) (*Report, error) {
	now := s.now()
	cur, err := Resolve(q, now)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "analytics.Report",
		trace.WithAttributes(
			attribute.String("analytics.period", string(q.Period)),
			attribute.Bool("analytics.compare", q.Compare),
		))
	defer span.End()

	prev, hasPrev := cur.Previous()
	hasPrev = hasPrev && q.Compare

	var (
		curAgg, prevAgg       *VisitAggregates
		curOrders, prevOrders *OrderStats
		clicks                Clicks
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		curAgg, err = s.repo.VisitAggregates(gctx, cur)
		return err
	})
	g.Go(func() (err error) {
		curOrders, err = s.repo.OrderStats(gctx, cur)
		return err
	})
	g.Go(func() (err error) {
		clicks.Ebay, err = s.repo.ClickCount(gctx, PartnerEbay, cur)
		return err
	})
	g.Go(func() (err error) {
		clicks.Whatnot, err = s.repo.ClickCount(gctx, PartnerWhatnot, cur)
		return err
	})
	if hasPrev {
		g.Go(func() (err error) {
			prevAgg, err = s.repo.VisitAggregates(gctx, prev)
			return err
		})
		g.Go(func() (err error) {
			prevOrders, err = s.repo.OrderStats(gctx, prev)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate query failed")
		zctx.From(ctx).Error("Analytics query failed, serving fallback data", zap.Error(err))
		return Fallback(q, cur, now), nil
	}

	r := &Report{
		Query:       q,
		Range:       cur,
		Current:     Derive(curAgg),
		Clicks:      clicks,
		Orders:      *curOrders,
		GeneratedAt: now,
	}
	switch {
	case hasPrev:
		p := Derive(prevAgg)
		r.Previous = &p
		r.Growth = growth(&r.Current, &p, curOrders, prevOrders)
	case q.Compare:
		// The all-time range has no previous period.
		r.Growth = &Growth{}
	}

	span.SetAttributes(attribute.Int64("analytics.visits", r.Current.TotalVisits))
	return r, nil
}
