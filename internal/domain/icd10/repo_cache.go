package icd10

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/codingassist/internal/platform/cache"
)

// ResultCache stores JSON values by key. *cache.Store implements it.
type ResultCache interface {
	Get(ctx context.Context, key string, v interface{}) error
	Set(ctx context.Context, key string, v interface{}) error
}

// cachedCodeRepo is a read-through cache over the search primitives.
// ExistingCodes always goes to the underlying repository.
type cachedCodeRepo struct {
	next   CodeRepository
	cache  ResultCache
	logger zerolog.Logger
}

// NewCachedCodeRepo wraps next with c. Cache failures are logged and the
// call falls through to next.
func NewCachedCodeRepo(next CodeRepository, c ResultCache, logger zerolog.Logger) CodeRepository {
	return &cachedCodeRepo{
		next:   next,
		cache:  c,
		logger: logger.With().Str("component", "icd10-cache").Logger(),
	}
}

func cacheKey(kind string, mode SearchMode, query string, limit int) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("%s:%s:%d:%s", kind, mode, limit, hex.EncodeToString(sum[:16]))
}

func (r *cachedCodeRepo) lookup(ctx context.Context, key string, v interface{}) bool {
	err := r.cache.Get(ctx, key, v)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) {
		r.logger.Warn().Err(err).Str("key", key).Msg("search cache read failed")
	}
	return false
}

func (r *cachedCodeRepo) store(ctx context.Context, key string, v interface{}) {
	if err := r.cache.Set(ctx, key, v); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("search cache write failed")
	}
}

func (r *cachedCodeRepo) FullTextSearch(ctx context.Context, query string, mode SearchMode, limit int) ([]DbResult, error) {
	key := cacheKey("page", mode, query, limit)
	var results []DbResult
	if r.lookup(ctx, key, &results) {
		return results, nil
	}
	results, err := r.next.FullTextSearch(ctx, query, mode, limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []DbResult{}
	}
	r.store(ctx, key, results)
	return results, nil
}

func (r *cachedCodeRepo) CountMatches(ctx context.Context, query string, mode SearchMode) (int, error) {
	key := cacheKey("count", mode, query, 0)
	var count int
	if r.lookup(ctx, key, &count) {
		return count, nil
	}
	count, err := r.next.CountMatches(ctx, query, mode)
	if err != nil {
		return 0, err
	}
	r.store(ctx, key, count)
	return count, nil
}

func (r *cachedCodeRepo) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	return r.next.ExistingCodes(ctx, codes)
}
