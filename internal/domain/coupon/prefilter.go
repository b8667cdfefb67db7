package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	prefilterCapacity = 100_000
	prefilterFPR      = 0.001
)

// Prefilter is a bloom filter over every issued coupon code. A negative answer
// is definitive for the codes loaded so far, so customer typos are rejected
// without a full lookup; a positive answer still goes to the repository.
//
// Codes written by other processes (seed-db, coupon-ingest) are picked up by
// Refresh, which reloads when the repository's latest id moved past the one
// seen at the last load, and by the periodic reload in Run.
type Prefilter struct {
	mu       sync.RWMutex
	filter   *bloom.BloomFilter
	latestID int64

	// Serializes reloads so a burst of misses costs one ListCodes.
	reload sync.Mutex
}

// NewPrefilter returns an empty prefilter.
func NewPrefilter() *Prefilter {
	return &Prefilter{filter: bloom.NewWithEstimates(prefilterCapacity, prefilterFPR)}
}

// Load rebuilds the filter from the repository's codes.
func (p *Prefilter) Load(ctx context.Context, repo Repository) error {
	p.reload.Lock()
	defer p.reload.Unlock()
	return p.load(ctx, repo)
}

func (p *Prefilter) load(ctx context.Context, repo Repository) error {
	// Read the watermark first so it never covers codes the list missed.
	latest, err := repo.LatestID(ctx)
	if err != nil {
		return errors.Wrap(err, "latest coupon id")
	}
	codes, err := repo.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list coupon codes")
	}

	f := bloom.NewWithEstimates(prefilterCapacity, prefilterFPR)
	for _, c := range codes {
		f.AddString(NormalizeCode(c))
	}

	p.mu.Lock()
	p.filter = f
	p.latestID = latest
	p.mu.Unlock()
	return nil
}

// Refresh reloads the filter when coupons were created since the last load
// and reports whether it did.
func (p *Prefilter) Refresh(ctx context.Context, repo Repository) (bool, error) {
	p.reload.Lock()
	defer p.reload.Unlock()

	latest, err := repo.LatestID(ctx)
	if err != nil {
		return false, errors.Wrap(err, "latest coupon id")
	}
	p.mu.RLock()
	seen := p.latestID
	p.mu.RUnlock()
	if latest <= seen {
		return false, nil
	}
	if err := p.load(ctx, repo); err != nil {
		return false, err
	}
	return true, nil
}

// Run reloads the filter every interval until ctx is done. Failed reloads
// keep the previous filter.
func (p *Prefilter) Run(ctx context.Context, repo Repository, interval time.Duration) {
	lg := zctx.From(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.Load(ctx, repo); err != nil && ctx.Err() == nil {
				lg.Warn("Reload coupon prefilter", zap.Error(err))
			}
		}
	}
}

// Add records a newly issued code.
func (p *Prefilter) Add(code string) {
	p.mu.Lock()
	p.filter.AddString(NormalizeCode(code))
	p.mu.Unlock()
}

// MayContain reports whether code might have been issued.
func (p *Prefilter) MayContain(code string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filter.TestString(NormalizeCode(code))
}
