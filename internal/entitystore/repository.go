// Package entitystore persists correlated provider entities and serves the
// lookups the resolver and the search orchestrator need.
package entitystore

import (
	"context"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// Repository is entity persistence. "Active" entities are those still present
// upstream (activeErp) or created by an operator; "valid" entities are active
// and schedulable.
type Repository interface {
	// FindByCodes returns active entities of entityType with any of codes.
	FindByCodes(ctx context.Context, integrationID string, entityType scheduling.EntityType, codes []string) ([]scheduling.Entity, error)
	// GetEntityByCode returns the first active entity matching lookup or a NotFound error.
	GetEntityByCode(ctx context.Context, lookup scheduling.EntityLookup) (*scheduling.Entity, error)
	// GetValidEntitiesByCode returns active entities with canSchedule set.
	GetValidEntitiesByCode(ctx context.Context, integrationID string, entityType scheduling.EntityType, codes []string) ([]scheduling.Entity, error)
	GetActiveEntities(ctx context.Context, integrationID string, entityType scheduling.EntityType) ([]scheduling.Entity, error)
	// UpsertEntities inserts or refreshes extracted entities.
	UpsertEntities(ctx context.Context, entities []scheduling.Entity) error
	// DeactivateMissing clears activeErp on erp-sourced entities whose code is not in keep.
	DeactivateMissing(ctx context.Context, integrationID string, entityType scheduling.EntityType, keep []string) (int64, error)
}

// Finder returns every active entity matching a lookup.
type Finder interface {
	Find(ctx context.Context, lookup scheduling.EntityLookup) ([]scheduling.Entity, error)
}

// RepositoryFinder answers lookups with one repository query each.
type RepositoryFinder struct {
	Repo Repository
}

var _ Finder = RepositoryFinder{}

func (f RepositoryFinder) Find(ctx context.Context, lookup scheduling.EntityLookup) ([]scheduling.Entity, error) {
	candidates, err := f.Repo.FindByCodes(ctx, lookup.IntegrationID, lookup.EntityType, []string{lookup.Code})
	if err != nil {
		return nil, err
	}
	return matching(candidates, lookup), nil
}

func matching(candidates []scheduling.Entity, lookup scheduling.EntityLookup) []scheduling.Entity {
	var out []scheduling.Entity
	for _, e := range candidates {
		if lookup.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}
