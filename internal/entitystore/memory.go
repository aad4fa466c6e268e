package entitystore

import (
	"context"
	"sync"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// MemoryStore is an in-process Repository for local development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	entities []scheduling.Entity
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore seeds a store with entities.
func NewMemoryStore(entities ...scheduling.Entity) *MemoryStore {
	s := &MemoryStore{}
	s.entities = append(s.entities, entities...)
	return s
}

func isActive(e scheduling.Entity) bool {
	return e.ActiveErp || e.Source == scheduling.SourceUser
}

func (s *MemoryStore) filter(fn func(scheduling.Entity) bool) []scheduling.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []scheduling.Entity{}
	for _, e := range s.entities {
		if fn(e) {
			out = append(out, e)
		}
	}
	scheduling.SortEntities(out)
	return out
}

func codeSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

func (s *MemoryStore) FindByCodes(_ context.Context, integrationID string, entityType scheduling.EntityType, codes []string) ([]scheduling.Entity, error) {
	set := codeSet(codes)
	return s.filter(func(e scheduling.Entity) bool {
		_, ok := set[e.Code]
		return ok && e.IntegrationID == integrationID && e.EntityType == entityType && isActive(e)
	}), nil
}

func (s *MemoryStore) GetEntityByCode(_ context.Context, lookup scheduling.EntityLookup) (*scheduling.Entity, error) {
	found := s.filter(func(e scheduling.Entity) bool { return lookup.Matches(e) && isActive(e) })
	if len(found) == 0 {
		return nil, scheduling.NotFound("entitystore.GetEntityByCode", "%s %s not found", lookup.EntityType, lookup.Code)
	}
	return &found[0], nil
}

func (s *MemoryStore) GetValidEntitiesByCode(ctx context.Context, integrationID string, entityType scheduling.EntityType, codes []string) ([]scheduling.Entity, error) {
	found, _ := s.FindByCodes(ctx, integrationID, entityType, codes)
	out := found[:0]
	for _, e := range found {
		if e.CanSchedule {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetActiveEntities(_ context.Context, integrationID string, entityType scheduling.EntityType) ([]scheduling.Entity, error) {
	return s.filter(func(e scheduling.Entity) bool {
		return e.IntegrationID == integrationID && e.EntityType == entityType && isActive(e)
	}), nil
}

func sameIdentity(a, b scheduling.Entity) bool {
	return a.IntegrationID == b.IntegrationID && a.EntityType == b.EntityType && a.Code == b.Code &&
		a.SpecialityCode == b.SpecialityCode && a.SpecialityType == b.SpecialityType &&
		a.InsuranceCode == b.InsuranceCode && a.InsurancePlanCode == b.InsurancePlanCode
}

func (s *MemoryStore) UpsertEntities(_ context.Context, entities []scheduling.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
next:
	for _, e := range entities {
		if e.Source == "" {
			e.Source = scheduling.SourceERP
		}
		for i := range s.entities {
			if sameIdentity(s.entities[i], e) {
				s.entities[i].Name = e.Name
				s.entities[i].ActiveErp = e.ActiveErp
				s.entities[i].Version = e.Version
				continue next
			}
		}
		s.entities = append(s.entities, e)
	}
	return nil
}

func (s *MemoryStore) DeactivateMissing(_ context.Context, integrationID string, entityType scheduling.EntityType, keep []string) (int64, error) {
	set := codeSet(keep)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i, e := range s.entities {
		if e.IntegrationID != integrationID || e.EntityType != entityType || e.Source != scheduling.SourceERP || !e.ActiveErp {
			continue
		}
		if _, ok := set[e.Code]; ok {
			continue
		}
		s.entities[i].ActiveErp = false
		n++
	}
	return n, nil
}
