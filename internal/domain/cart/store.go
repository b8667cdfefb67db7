package cart

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Store keeps carts keyed by session id.
type Store interface {
	// Get returns a copy of the session's cart; a missing cart is empty.
	Get(ctx context.Context, sid string) (*Cart, error)
	// Update applies fn to the session's cart and persists the result only
	// when fn returns nil.
	Update(ctx context.Context, sid string, fn func(c *Cart) error) (*Cart, error)
	// Delete drops the session's cart.
	Delete(ctx context.Context, sid string) error
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store with sliding TTL eviction. Every access
// to a cart extends its lifetime.
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *Cart]
}

// NewMemoryStore creates a MemoryStore whose carts expire after ttl of
// inactivity. Call Run to start background eviction.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: ttlcache.New[string, *Cart](
			ttlcache.WithTTL[string, *Cart](ttl),
		),
	}
}

// Run evicts expired carts until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context) {
	go s.cache.Start()
	<-ctx.Done()
	s.cache.Stop()
}

// Len returns the number of live carts.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Get returns a copy of the stored cart.
func (s *MemoryStore) Get(_ context.Context, sid string) (*Cart, error) {
	if item := s.cache.Get(sid); item != nil {
		return item.Value().Clone(), nil
	}
	return &Cart{}, nil
}

// Update serializes read-modify-write so concurrent requests from the same
// session never lose a mutation.
func (s *MemoryStore) Update(_ context.Context, sid string, fn func(c *Cart) error) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Cart{}
	if item := s.cache.Get(sid); item != nil {
		c = item.Value().Clone()
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	s.cache.Set(sid, c, ttlcache.DefaultTTL)
	return c.Clone(), nil
}

// Delete drops the cart.
func (s *MemoryStore) Delete(_ context.Context, sid string) error {
	s.cache.Delete(sid)
	return nil
}
