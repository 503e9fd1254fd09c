package inference

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of memoised assessments.
const DefaultCacheSize = 4096

type cacheKey struct {
	age, income, dharma float64
}

// CachedPredictor memoises assessments of an underlying Scorer. Identical
// inputs always map to the same assessment, so the cache never changes a
// result; failed assessments are not stored.
type CachedPredictor struct {
	scorer Scorer
	cache  *lru.Cache[cacheKey, Assessment]
}

// NewCachedPredictor wraps scorer with an LRU of the given size.
func NewCachedPredictor(scorer Scorer, size int) (*CachedPredictor, error) {
	if scorer == nil {
		return nil, ErrNoModel
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, Assessment](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &CachedPredictor{scorer: scorer, cache: cache}, nil
}

// Assess returns a cached assessment or computes and stores one.
func (c *CachedPredictor) Assess(age, income, dharma float64) (Assessment, error) {
	key := cacheKey{age, income, dharma}
	if a, ok := c.cache.Get(key); ok {
		return a, nil
	}
	a, err := c.scorer.Assess(age, income, dharma)
	if err != nil {
		return Assessment{}, err
	}
	c.cache.Add(key, a)
	return a, nil
}

// PredictOne returns only the label.
func (c *CachedPredictor) PredictOne(age, income, dharma float64) (Label, error) {
	a, err := c.Assess(age, income, dharma)
	if err != nil {
		return "", err
	}
	return a.Label, nil
}

// Len reports how many assessments are cached.
func (c *CachedPredictor) Len() int {
	return c.cache.Len()
}
