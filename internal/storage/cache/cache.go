// Package cache decorates a promotion repository with a Redis read-through
// cache of the active catalog and an in-process bloom filter of the active
// promo codes.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/oolio-promotions/internal/codec"
	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

const (
	// DefaultKey is the Redis key holding the encoded active catalog.
	DefaultKey = "promotions:active"

	bloomMinCapacity = 1024
	bloomFPR         = 0.001
)

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ promotion.Repository = (*Repository)(nil)

// Repository caches ListActive in Redis and answers FindByCode for unknown
// codes without touching the underlying repository. Redis failures fall back
// to the underlying repository.
type Repository struct {
	base  promotion.Repository
	store Store
	key   string
	ttl   time.Duration

	codes atomic.Pointer[bloom.BloomFilter]
}

// New wraps base. Entries expire after ttl.
func New(base promotion.Repository, store Store, ttl time.Duration) *Repository {
	return &Repository{
		base:  base,
		store: store,
		key:   DefaultKey,
		ttl:   ttl,
	}
}

// ListActive returns the cached catalog, loading it from the underlying
// repository on a miss.
func (r *Repository) ListActive(ctx context.Context) ([]promotion.Promotion, error) {
	lg := zctx.From(ctx)

	data, err := r.store.Get(ctx, r.key).Bytes()
	switch {
	case err == nil:
		ps, err := decode(data)
		if err == nil {
			r.indexCodes(ps)
			return ps, nil
		}
		lg.Warn("Discarding undecodable promotion cache entry", zap.Error(err))
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Promotion cache read failed", zap.Error(err))
	}

	ps, err := r.base.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	r.indexCodes(ps)

	if err := r.store.Set(ctx, r.key, encode(ps), r.ttl).Err(); err != nil {
		lg.Warn("Promotion cache write failed", zap.Error(err))
	}
	return ps, nil
}

// FindByCode returns nil without a lookup when the code is certainly not an
// active promo code. The filter is rebuilt on every ListActive.
func (r *Repository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	if f := r.codes.Load(); f != nil && !f.TestString(code) {
		return nil, nil
	}
	return r.base.FindByCode(ctx, code)
}

// FindByID is not cached.
func (r *Repository) FindByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	return r.base.FindByID(ctx, id)
}

// RecordUsage records through the underlying repository and drops the cached
// catalog so usage counters are re-read.
func (r *Repository) RecordUsage(ctx context.Context, u promotion.Usage) error {
	if err := r.base.RecordUsage(ctx, u); err != nil {
		return err
	}
	if err := r.Invalidate(ctx); err != nil {
		zctx.From(ctx).Warn("Promotion cache invalidation failed", zap.Error(err))
	}
	return nil
}

// Invalidate drops the cached catalog and the code filter.
func (r *Repository) Invalidate(ctx context.Context) error {
	r.codes.Store(nil)
	if err := r.store.Del(ctx, r.key).Err(); err != nil {
		return errors.Wrap(err, "delete cached promotions")
	}
	return nil
}

func (r *Repository) indexCodes(ps []promotion.Promotion) {
	f := bloom.NewWithEstimates(uint(max(len(ps), bloomMinCapacity)), bloomFPR)
	for _, p := range ps {
		if p.Kind == promotion.KindPromoCode && p.Code != "" {
			f.AddString(p.Code)
		}
	}
	r.codes.Store(f)
}

func encode(ps []promotion.Promotion) []byte {
	records := make([]promotion.Record, len(ps))
	for i, p := range ps {
		records[i] = promotion.ToRecord(p)
	}
	return codec.MarshalRecords(records)
}

func decode(data []byte) ([]promotion.Promotion, error) {
	records, err := codec.UnmarshalRecords(data)
	if err != nil {
		return nil, err
	}
	ps, skipped := promotion.NormalizeAll(records)
	if len(skipped) > 0 {
		return nil, errors.Wrap(skipped[0], "normalize cached promotion")
	}
	return ps, nil
}
