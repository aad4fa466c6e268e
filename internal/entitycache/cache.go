// Package entitycache caches provider entity listings per integration, entity
// type and filter.
package entitycache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/scheduling-integrator/internal/cachestore"
	"github.com/wolfman30/scheduling-integrator/internal/observability/metrics"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

const (
	keyPrefix         = "entities"
	generationPrefix  = "entities-generation"
	defaultTTL        = time.Hour
	minGenerationTTL  = 30 * 24 * time.Hour
	backgroundTimeout = 30 * time.Second
	loadTimeout       = 30 * time.Second
)

// DefaultTTLs reflects how often each entity type changes upstream.
var DefaultTTLs = map[scheduling.EntityType]time.Duration{
	scheduling.EntityOrganizationUnit:         24 * time.Hour,
	scheduling.EntityOrganizationUnitLocation: 24 * time.Hour,
	scheduling.EntityInsurance:                12 * time.Hour,
	scheduling.EntityInsurancePlan:            12 * time.Hour,
	scheduling.EntityInsuranceSubPlan:         12 * time.Hour,
	scheduling.EntityPlanCategory:             12 * time.Hour,
	scheduling.EntitySpeciality:               12 * time.Hour,
	scheduling.EntityAppointmentType:          12 * time.Hour,
	scheduling.EntityTypeOfService:            12 * time.Hour,
	scheduling.EntityOccupationArea:           12 * time.Hour,
	scheduling.EntityProcedure:                6 * time.Hour,
	scheduling.EntityDoctor:                   15 * time.Minute,
}

// Loader fetches the live entity list on a miss or refresh.
type Loader func(ctx context.Context) ([]scheduling.Entity, error)

// FetchOptions controls a read-through lookup.
type FetchOptions struct {
	// Bypass skips the cached value and forces a live fetch.
	Bypass bool
	// Refresh reloads the entry in the background after serving a hit.
	Refresh bool
	// TTL overrides the per-type TTL.
	TTL time.Duration
}

// Options configures a Cache.
type Options struct {
	TTLs    map[scheduling.EntityType]time.Duration
	Logger  *logging.Logger
	Metrics *metrics.IntegrationMetrics
}

// Cache is a read-through cache of entity lists. It is never the source of
// truth: store failures degrade to live fetches.
type Cache struct {
	store   cachestore.Store
	ttls    map[scheduling.EntityType]time.Duration
	// generationTTL outlives every entry, so an expired generation never
	// revives entries written under the previous one.
	generationTTL time.Duration
	logger        *logging.Logger
	metrics *metrics.IntegrationMetrics

	group      singleflight.Group
	background sync.WaitGroup
}

// New builds a Cache on store.
func New(store cachestore.Store, opts Options) *Cache {
	if store == nil {
		panic("entitycache: store cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	ttls := make(map[scheduling.EntityType]time.Duration, len(DefaultTTLs))
	for t, ttl := range DefaultTTLs {
		ttls[t] = ttl
	}
	generationTTL := minGenerationTTL
	for t, ttl := range opts.TTLs {
		ttls[t] = ttl
		if 2*ttl > generationTTL {
			generationTTL = 2 * ttl
		}
	}
	return &Cache{store: store, ttls: ttls, generationTTL: generationTTL, logger: opts.Logger, metrics: opts.Metrics}
}

// Key hashes integrationID, entityType and the filter with sorted keys, so
// logically identical filters always share an entry. It is the key of the
// initial generation.
func Key(integrationID string, entityType scheduling.EntityType, filter scheduling.CorrelationFilterByKey) string {
	return keyAt(integrationID, entityType, filter, "")
}

func keyAt(integrationID string, entityType scheduling.EntityType, filter scheduling.CorrelationFilterByKey, generation string) string {
	fields := filter.Normalize().StringMap()
	fields["@integration"] = integrationID
	fields["@entityType"] = string(entityType)
	if generation != "" {
		fields["@generation"] = generation
	}
	return cachestore.CreateCustomKey(keyPrefix, fields)
}

func generationStoreKey(integrationID string, entityType scheduling.EntityType) string {
	return cachestore.CreateCustomKey(generationPrefix, map[string]string{
		"integration": integrationID,
		"entityType":  string(entityType),
	})
}

// entryKey returns the key of the lookup under the current generation of
// (integrationID, entityType). A missing generation is the initial one.
func (c *Cache) entryKey(ctx context.Context, entityType scheduling.EntityType, integrationID string, filter scheduling.CorrelationFilterByKey) (string, error) {
	var generation string
	err := c.store.Get(ctx, generationStoreKey(integrationID, entityType), &generation)
	if err != nil && !errors.Is(err, cachestore.ErrCacheMiss) {
		return "", err
	}
	return keyAt(integrationID, entityType, filter, generation), nil
}

func (c *Cache) entryTTL(entityType scheduling.EntityType, ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.TTL(entityType)
	}
	if ttl > c.generationTTL/2 {
		ttl = c.generationTTL / 2
	}
	return ttl
}

// TTL returns the configured lifetime for entityType.
func (c *Cache) TTL(entityType scheduling.EntityType) time.Duration {
	if ttl, ok := c.ttls[entityType]; ok && ttl > 0 {
		return ttl
	}
	return defaultTTL
}

// Get returns the cached entities, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, entityType scheduling.EntityType, integrationID string, filter scheduling.CorrelationFilterByKey) ([]scheduling.Entity, bool, error) {
	key, err := c.entryKey(ctx, entityType, integrationID, filter)
	if err != nil {
		return nil, false, err
	}
	var entities []scheduling.Entity
	err = c.store.Get(ctx, key, &entities)
	if errors.Is(err, cachestore.ErrCacheMiss) {
		c.metrics.ObserveCacheLookup(string(entityType), false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	c.metrics.ObserveCacheLookup(string(entityType), true)
	if entities == nil {
		entities = []scheduling.Entity{}
	}
	return entities, true, nil
}

// Set stores entities; ttl <= 0 uses the per-type TTL.
func (c *Cache) Set(ctx context.Context, entityType scheduling.EntityType, integrationID string, filter scheduling.CorrelationFilterByKey, entities []scheduling.Entity, ttl time.Duration) error {
	key, err := c.entryKey(ctx, entityType, integrationID, filter)
	if err != nil {
		return err
	}
	if entities == nil {
		entities = []scheduling.Entity{}
	}
	return c.store.Set(ctx, key, entities, c.entryTTL(entityType, ttl))
}

// Invalidate removes the entry for the lookup.
func (c *Cache) Invalidate(ctx context.Context, entityType scheduling.EntityType, integrationID string, filter scheduling.CorrelationFilterByKey) error {
	key, err := c.entryKey(ctx, entityType, integrationID, filter)
	if err != nil {
		return err
	}
	return c.store.Delete(ctx, key)
}

// InvalidateAll drops every entry of entityType for integrationID, whatever
// the filter, by starting a new generation.
func (c *Cache) InvalidateAll(ctx context.Context, entityType scheduling.EntityType, integrationID string) error {
	return c.store.Set(ctx, generationStoreKey(integrationID, entityType), uuid.NewString(), c.generationTTL)
}

// Fetch is the read-through lookup. Concurrent misses for the same key share
// one load.
func (c *Cache) Fetch(ctx context.Context, entityType scheduling.EntityType, integrationID string, filter scheduling.CorrelationFilterByKey, opts FetchOptions, load Loader) ([]scheduling.Entity, error) {
	if !opts.Bypass {
		entities, ok, err := c.Get(ctx, entityType, integrationID, filter)
		if err != nil {
			c.logger.Warn("entity cache read failed", "entity_type", entityType, "integration_id", integrationID, "error", err)
		}
		if ok {
			if opts.Refresh {
				c.refresh(ctx, entityType, integrationID, filter, opts.TTL, load)
			}
			return entities, nil
		}
	}
	return c.load(ctx, entityType, integrationID, filter, opts.TTL, load)
}

// load runs one shared load per key. The load is detached from the caller
// that started it, so a caller giving up never fails the others waiting on it.
func (c *Cache) load(ctx context.Context, entityType scheduling.EntityType, integrationID string, filter scheduling.CorrelationFilterByKey, ttl time.Duration, load Loader) ([]scheduling.Entity, error) {
	key, err := c.entryKey(ctx, entityType, integrationID, filter)
	if err != nil {
		c.logger.Warn("entity cache read failed", "entity_type", entityType, "integration_id", integrationID, "error", err)
		entities, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return nonNil(entities), nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		entities, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		entities = nonNil(entities)
		if err := c.store.Set(loadCtx, key, entities, c.entryTTL(entityType, ttl)); err != nil {
			c.logger.Warn("entity cache write failed", "entity_type", entityType, "integration_id", integrationID, "error", err)
		}
		return entities, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		entities, _ := res.Val.([]scheduling.Entity)
		return nonNil(entities), nil
	}
}

func nonNil(entities []scheduling.Entity) []scheduling.Entity {
	if entities == nil {
		return []scheduling.Entity{}
	}
	return entities
}

// refresh reloads the entry on a detached goroutine. Failures are logged and
// never reach the caller.
func (c *Cache) refresh(ctx context.Context, entityType scheduling.EntityType, integrationID string, filter scheduling.CorrelationFilterByKey, ttl time.Duration, load Loader) {
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
	filter = filter.Normalize()
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		defer cancel()
		if _, err := c.load(bgCtx, entityType, integrationID, filter, ttl, load); err != nil {
			c.logger.Error("entity cache background refresh failed", "entity_type", entityType, "integration_id", integrationID, "error", err)
		}
	}()
}

// Wait blocks until in-flight background refreshes finish.
func (c *Cache) Wait() {
	c.background.Wait()
}
