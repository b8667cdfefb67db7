// Command coupon-ingest bulk-loads coupons from gzipped CSV exports.
//
// Each file has a header row naming some of the columns code, description,
// discount_type, value, min_purchase, max_uses, start_date, end_date, active.
// Codes already issued, or repeated across files, are skipped.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cardshop/internal/domain/coupon"
	"github.com/xenking/cardshop/internal/storage/postgres"
)

const defaultBatchSize = 1000

// fileResult holds the rules parsed from one file.
type fileResult struct {
	path     string
	rules    []coupon.Rule
	rejected int
}

func main() {
	var (
		pattern     string
		databaseURL string
		batchSize   int
		dryRun      bool
	)

	flag.StringVar(&pattern, "files", "data/coupons*.csv.gz", "glob of gzipped CSV files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", defaultBatchSize, "coupons per insert batch")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, pattern, databaseURL, max(batchSize, 1), dryRun); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, pattern, databaseURL string, batchSize int, dryRun bool) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "glob input files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}
	slices.Sort(files)

	results, err := parseFiles(ctx, lg, files)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	repo := postgres.NewCouponRepository(pool)

	issued := coupon.NewPrefilter()
	if err := issued.Load(ctx, repo); err != nil {
		return errors.Wrap(err, "load issued codes")
	}

	rules, err := dedupe(ctx, results, issued, repo)
	if err != nil {
		return errors.Wrap(err, "deduplicate")
	}
	lg.Info("Coupons ready", zap.Int("new", len(rules)))
	if dryRun || len(rules) == 0 {
		return nil
	}

	var inserted int64
	for batch := range slices.Chunk(rules, batchSize) {
		n, err := repo.CreateBatch(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "insert batch")
		}
		inserted += n
		lg.Info("Write progress", zap.Int64("inserted", inserted), zap.Int("total", len(rules)))
	}
	return nil
}

// parseFiles reads every file concurrently.
func parseFiles(ctx context.Context, lg *zap.Logger, files []string) ([]fileResult, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return errors.Wrapf(err, "open %s", path)
			}
			defer func() { _ = f.Close() }()

			gz, err := pgzip.NewReader(f)
			if err != nil {
				return errors.Wrapf(err, "gzip reader for %s", path)
			}
			defer func() { _ = gz.Close() }()

			rules, rejected, err := parseCSV(ctx, gz)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			lg.Info("File parsed",
				zap.String("path", path),
				zap.Int("coupons", len(rules)),
				zap.Int("rejected", rejected),
			)
			results[i] = fileResult{path: path, rules: rules, rejected: rejected}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// parseCSV reads coupon rows. Rows that do not form a valid coupon are
// counted as rejected rather than failing the file.
func parseCSV(ctx context.Context, r io.Reader) ([]coupon.Rule, int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"code", "discount_type", "value"} {
		if _, ok := cols[required]; !ok {
			return nil, 0, errors.Errorf("missing %q column", required)
		}
	}
	cr.FieldsPerRecord = len(header)

	var (
		rules    []coupon.Rule
		rejected int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
				rejected++
				continue
			}
			return nil, 0, err
		}

		rule, err := ruleFromRecord(rec, cols)
		if err != nil {
			rejected++
			continue
		}
		rules = append(rules, rule)
	}
	return rules, rejected, nil
}

func ruleFromRecord(rec []string, cols map[string]int) (coupon.Rule, error) {
	get := func(name string) string {
		if i, ok := cols[name]; ok {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	rule := coupon.Rule{
		Code:         coupon.NormalizeCode(get("code")),
		Description:  get("description"),
		DiscountType: coupon.DiscountType(strings.ToLower(get("discount_type"))),
		Active:       true,
	}

	var err error
	if rule.Value, err = decimal.NewFromString(get("value")); err != nil {
		return rule, errors.Wrap(err, "value")
	}
	if v := get("min_purchase"); v != "" {
		if rule.MinPurchase, err = decimal.NewFromString(v); err != nil {
			return rule, errors.Wrap(err, "min_purchase")
		}
	}
	if v := get("max_uses"); v != "" {
		if rule.MaxUses, err = strconv.Atoi(v); err != nil {
			return rule, errors.Wrap(err, "max_uses")
		}
	}
	if v := get("active"); v != "" {
		if rule.Active, err = strconv.ParseBool(v); err != nil {
			return rule, errors.Wrap(err, "active")
		}
	}
	if rule.StartDate, err = parseDate(get("start_date")); err != nil {
		return rule, errors.Wrap(err, "start_date")
	}
	if rule.EndDate, err = parseDate(get("end_date")); err != nil {
		return rule, errors.Wrap(err, "end_date")
	}
	return rule, rule.Validate()
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// codeLookup confirms whether a code the prefilter flagged really exists.
type codeLookup interface {
	FindByCode(ctx context.Context, code string) (*coupon.Rule, error)
}

// dedupe keeps the first occurrence of each code across files and drops
// codes already issued. Only prefilter hits are confirmed against the store.
func dedupe(ctx context.Context, results []fileResult, issued *coupon.Prefilter, store codeLookup) ([]coupon.Rule, error) {
	seen := make(map[string]struct{})
	var out []coupon.Rule
	for _, res := range results {
		for _, rule := range res.rules {
			if _, dup := seen[rule.Code]; dup {
				continue
			}
			seen[rule.Code] = struct{}{}

			if issued.MayContain(rule.Code) {
				_, err := store.FindByCode(ctx, rule.Code)
				if err == nil {
					continue
				}
				if !errors.Is(err, coupon.ErrInvalidCoupon) {
					return nil, errors.Wrapf(err, "look up %s", rule.Code)
				}
			}
			out = append(out, rule)
		}
	}
	return out, nil
}
