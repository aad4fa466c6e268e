package integrator

import (
	"context"

	"github.com/wolfman30/scheduling-integrator/internal/correlation"
	"github.com/wolfman30/scheduling-integrator/internal/entitycache"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// EntityListOptions controls GetEntityList caching.
type EntityListOptions struct {
	// Cache allows a cached listing; false forces a live fetch.
	Cache bool
	// Refresh reloads a cached listing in the background after serving it.
	Refresh bool
}

// GetEntityList returns the schedulable entities of target available under
// filter. Upstream entities unknown to persistence, not schedulable or
// excluded by flows are dropped.
func (s *Service) GetEntityList(ctx context.Context, integration scheduling.Integration, filter scheduling.CorrelationFilterByKey, target scheduling.EntityType, opts EntityListOptions) ([]scheduling.Entity, error) {
	const op = "integrator.GetEntityList"
	if !target.Valid() {
		return nil, scheduling.NotFound(op, "unknown entity type %q", target)
	}
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return nil, err
	}

	load := func(ctx context.Context) ([]scheduling.Entity, error) {
		resolved, err := s.resolver.Resolve(ctx, integration, filter, correlation.Options{})
		if err != nil {
			return nil, err
		}
		extracted, err := adapter.ExtractEntity(ctx, target, resolved)
		if err != nil {
			return nil, err
		}
		codes := make([]string, 0, len(extracted))
		for _, e := range extracted {
			codes = append(codes, e.Code)
		}
		if len(codes) == 0 {
			return []scheduling.Entity{}, nil
		}
		valid, err := s.entities.GetValidEntitiesByCode(ctx, integration.ID, target, codes)
		if err != nil {
			return nil, scheduling.Wrap(op, err)
		}
		valid, err = s.flows.MatchEntitiesFlows(ctx, integration, valid, target, resolved)
		if err != nil {
			return nil, scheduling.Wrap(op, err)
		}
		scheduling.SortEntities(valid)
		return valid, nil
	}

	return s.entityCache.Fetch(ctx, target, integration.ID, filter, entitycache.FetchOptions{
		Bypass:  !opts.Cache,
		Refresh: opts.Refresh,
	}, load)
}

// SyncResult reports an entity extraction.
type SyncResult struct {
	EntityType  scheduling.EntityType `json:"entityType"`
	Upserted    int                   `json:"upserted"`
	Deactivated int64                 `json:"deactivated"`
}

// SyncEntities extracts every entity of entityType from the provider into
// persistence. Extracted entities are marked active; previously extracted
// entities missing from the extraction are deactivated. Operator-created
// entities are left untouched.
func (s *Service) SyncEntities(ctx context.Context, integration scheduling.Integration, entityType scheduling.EntityType) (SyncResult, error) {
	const op = "integrator.SyncEntities"
	result := SyncResult{EntityType: entityType}
	if !entityType.Valid() {
		return result, scheduling.NotFound(op, "unknown entity type %q", entityType)
	}
	ctx, adapter, err := s.adapter(ctx, integration)
	if err != nil {
		return result, err
	}
	extracted, err := adapter.ExtractEntity(ctx, entityType, nil)
	if err != nil {
		return result, err
	}

	keep := make([]string, 0, len(extracted))
	for i := range extracted {
		e := &extracted[i]
		e.IntegrationID = integration.ID
		e.EntityType = entityType
		e.Source = scheduling.SourceERP
		e.ActiveErp = true
		keep = append(keep, e.Code)
	}
	if len(extracted) > 0 {
		if err := s.entities.UpsertEntities(ctx, extracted); err != nil {
			return result, scheduling.Wrap(op, err)
		}
	}
	result.Upserted = len(extracted)

	deactivated, err := s.entities.DeactivateMissing(ctx, integration.ID, entityType, keep)
	if err != nil {
		return result, scheduling.Wrap(op, err)
	}
	result.Deactivated = deactivated

	if err := s.entityCache.InvalidateAll(ctx, entityType, integration.ID); err != nil {
		s.logger.Warn("entity cache invalidation failed", "entity_type", entityType, "integration_id", integration.ID, "error", err)
	}
	s.logger.Info("entities synced",
		"integration_id", integration.ID,
		"entity_type", entityType,
		"upserted", result.Upserted,
		"deactivated", deactivated,
	)
	return result, nil
}
