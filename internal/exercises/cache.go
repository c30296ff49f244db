package exercises

import (
	"context"
	"encoding/json"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
)

const (
	oneHour            = 60 * 60
	catalogCacheExpire = oneHour * 6 // catalog data barely ever changes
)

var listCacheKey = []byte("exercises::all")

// CachedRepo fronts the catalog repo with an in-memory cache. The
// catalog is read on nearly every plan render, so cache misses are
// rare after warmup.
type CachedRepo struct {
	repo  *Repo
	cache *freecache.Cache
}

func NewCachedRepo(repo *Repo) *CachedRepo {
	megabyte := 1024 * 1024
	cacheSize := 10 * megabyte
	return &CachedRepo{
		repo:  repo,
		cache: freecache.NewCache(cacheSize),
	}
}

func (c *CachedRepo) List(ctx context.Context) ([]Exercise, error) {
	if cachedBytes, err := c.cache.Get(listCacheKey); err == nil {
		var all []Exercise
		unmarshalErr := json.Unmarshal(cachedBytes, &all)
		if unmarshalErr == nil {
			return all, nil
		}
		log.Errorf("failed to unmarshal cached exercises list: %s", unmarshalErr)
	}

	all, err := c.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	allJson, err := json.Marshal(all)
	if err != nil {
		log.Errorf("failed to marshal exercises list for cache: %s", err)
		return all, nil
	}
	if err := c.cache.Set(listCacheKey, allJson, catalogCacheExpire); err != nil {
		log.Errorf("failed to set exercises list cache: %s", err)
	}

	return all, nil
}

func (c *CachedRepo) Get(ctx context.Context, id string) (*Exercise, error) {
	cacheKey := []byte("exercise::" + id)
	if cachedBytes, err := c.cache.Get(cacheKey); err == nil {
		var exercise Exercise
		unmarshalErr := json.Unmarshal(cachedBytes, &exercise)
		if unmarshalErr == nil {
			return &exercise, nil
		}
		log.Errorf("failed to unmarshal cached exercise %s: %s", id, unmarshalErr)
	}

	exercise, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if exerciseJson, err := json.Marshal(exercise); err == nil {
		if err := c.cache.Set(cacheKey, exerciseJson, catalogCacheExpire); err != nil {
			log.Errorf("failed to set exercise cache for %s: %s", id, err)
		}
	}

	return exercise, nil
}

func (c *CachedRepo) Add(ctx context.Context, exercise Exercise) (*Exercise, error) {
	added, err := c.repo.Add(ctx, exercise)
	if err != nil {
		return nil, err
	}
	// the list snapshot is stale now
	c.cache.Del(listCacheKey)
	return added, nil
}
