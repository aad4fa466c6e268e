package entitystore

import (
	"context"
	"sort"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

type batchGroup struct {
	integrationID string
	entityType    scheduling.EntityType
}

// BatchFinder collapses concurrent lookups into one FindByCodes query per
// (integration, entity type) and memoizes results. Build one per request.
type BatchFinder struct {
	loader *dataloader.Loader[scheduling.EntityLookup, []scheduling.Entity]
}

var _ Finder = (*BatchFinder)(nil)

// NewBatchFinder creates a request-scoped finder on repo.
func NewBatchFinder(repo Repository) *BatchFinder {
	batch := func(ctx context.Context, keys []scheduling.EntityLookup) []*dataloader.Result[[]scheduling.Entity] {
		results := make([]*dataloader.Result[[]scheduling.Entity], len(keys))

		codes := make(map[batchGroup][]string)
		for _, key := range keys {
			g := batchGroup{integrationID: key.IntegrationID, entityType: key.EntityType}
			codes[g] = append(codes[g], key.Code)
		}

		found := make(map[batchGroup][]scheduling.Entity, len(codes))
		failed := make(map[batchGroup]error)
		for g, list := range codes {
			sort.Strings(list)
			entities, err := repo.FindByCodes(ctx, g.integrationID, g.entityType, dedupe(list))
			if err != nil {
				failed[g] = err
				continue
			}
			found[g] = entities
		}

		for i, key := range keys {
			g := batchGroup{integrationID: key.IntegrationID, entityType: key.EntityType}
			if err, ok := failed[g]; ok {
				results[i] = &dataloader.Result[[]scheduling.Entity]{Error: err}
				continue
			}
			results[i] = &dataloader.Result[[]scheduling.Entity]{Data: matching(found[g], key)}
		}
		return results
	}
	return &BatchFinder{loader: dataloader.NewBatchedLoader(batch)}
}

func (f *BatchFinder) Find(ctx context.Context, lookup scheduling.EntityLookup) ([]scheduling.Entity, error) {
	return f.loader.Load(ctx, lookup)()
}

// FindMany resolves lookups in a single batch.
func (f *BatchFinder) FindMany(ctx context.Context, lookups []scheduling.EntityLookup) ([][]scheduling.Entity, []error) {
	return f.loader.LoadMany(ctx, lookups)()
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
