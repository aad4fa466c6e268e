// Package correlation turns provider entity codes into resolved entities,
// disambiguating types whose codes are only unique under a parent entity.
package correlation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/scheduling-integrator/internal/entitystore"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

var tracer = otel.Tracer("scheduling.internal.correlation")

// Stages resolve in order; later stages read earlier results as disambiguators.
var stages = [][]scheduling.EntityType{
	{
		scheduling.EntityOrganizationUnit,
		scheduling.EntityDoctor,
		scheduling.EntityInsurance,
		scheduling.EntityTypeOfService,
		scheduling.EntityOrganizationUnitLocation,
		scheduling.EntityOccupationArea,
		scheduling.EntityAppointmentType,
	},
	{
		scheduling.EntityInsurancePlan,
		scheduling.EntityPlanCategory,
		scheduling.EntitySpeciality,
	},
	{
		scheduling.EntityInsuranceSubPlan,
		scheduling.EntityProcedure,
	},
}

// Options tunes a resolution.
type Options struct {
	// ForceSingleEntity resolves every key by code alone and takes the first
	// match. Callers use it when codes are already unique per provider.
	ForceSingleEntity bool
}

// Resolver resolves CorrelationFilterByKey values into CorrelationFilters.
type Resolver struct {
	finder entitystore.Finder
	logger *logging.Logger
}

// NewResolver builds a resolver reading entities through finder.
func NewResolver(finder entitystore.Finder, logger *logging.Logger) *Resolver {
	if finder == nil {
		panic("correlation: finder cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{finder: finder, logger: logger}
}

// WithFinder returns a resolver sharing the logger but reading through finder,
// e.g. a request-scoped entitystore.BatchFinder.
func (r *Resolver) WithFinder(finder entitystore.Finder) *Resolver {
	return &Resolver{finder: finder, logger: r.logger}
}

// Resolve looks up every key of filter. Keys without a matching entity, or
// whose match stays ambiguous, are omitted rather than reported as errors.
func (r *Resolver) Resolve(ctx context.Context, integration scheduling.Integration, filter scheduling.CorrelationFilterByKey, opts Options) (scheduling.CorrelationFilter, error) {
	ctx, span := tracer.Start(ctx, "correlation.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("scheduling.integration_id", integration.ID),
		attribute.Int("scheduling.filter_keys", len(filter)),
	)

	filter = filter.Normalize()
	resolved := make(scheduling.CorrelationFilter, len(filter))
	if len(filter) == 0 {
		return resolved, nil
	}

	for _, stage := range stages {
		var lookups []scheduling.EntityLookup
		for _, entityType := range stage {
			if code, ok := filter[entityType]; ok {
				lookups = append(lookups, r.lookupFor(integration, entityType, code, resolved, opts))
			}
		}
		found := make([]*scheduling.Entity, len(lookups))
		g, gctx := errgroup.WithContext(ctx)
		for i, lookup := range lookups {
			i, lookup := i, lookup
			g.Go(func() error {
				entity, ok, err := r.resolveOne(gctx, lookup, opts)
				if err != nil {
					return err
				}
				if ok {
					found[i] = &entity
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			span.RecordError(err)
			return nil, scheduling.Wrap("correlation.Resolve", err)
		}
		for i, lookup := range lookups {
			if found[i] != nil {
				resolved[lookup.EntityType] = *found[i]
			}
		}
	}
	span.SetAttributes(attribute.Int("scheduling.resolved_keys", len(resolved)))
	return resolved, nil
}

// lookupFor builds the lookup for one key from the entities resolved so far.
// Missing parents leave their disambiguator empty.
func (r *Resolver) lookupFor(integration scheduling.Integration, entityType scheduling.EntityType, code string, resolved scheduling.CorrelationFilter, opts Options) scheduling.EntityLookup {
	lookup := scheduling.EntityLookup{IntegrationID: integration.ID, EntityType: entityType, Code: code}
	if opts.ForceSingleEntity {
		return lookup
	}
	insurance, hasInsurance := resolved.Get(scheduling.EntityInsurance)
	switch entityType {
	case scheduling.EntityInsurancePlan, scheduling.EntityPlanCategory:
		if hasInsurance {
			lookup.InsuranceCode = insurance.Code
		}
	case scheduling.EntityInsuranceSubPlan:
		if hasInsurance {
			lookup.InsuranceCode = insurance.Code
		}
		if plan, ok := resolved.Get(scheduling.EntityInsurancePlan); ok {
			lookup.InsurancePlanCode = plan.Code
		}
	case scheduling.EntitySpeciality:
		if at, ok := resolved.Get(scheduling.EntityAppointmentType); ok {
			lookup.SpecialityType = string(at.Params.ReferenceScheduleType)
		}
	case scheduling.EntityProcedure:
		if integration.Rules.UseProcedureWithoutSpecialityRelation {
			return lookup
		}
		if sp, ok := resolved.Get(scheduling.EntitySpeciality); ok {
			lookup.SpecialityCode = sp.Code
			lookup.SpecialityType = sp.SpecialityType
		} else if at, ok := resolved.Get(scheduling.EntityAppointmentType); ok {
			lookup.SpecialityType = string(at.Params.ReferenceScheduleType)
		}
	}
	return lookup
}

func (r *Resolver) resolveOne(ctx context.Context, lookup scheduling.EntityLookup, opts Options) (scheduling.Entity, bool, error) {
	candidates, err := r.finder.Find(ctx, lookup)
	if err != nil {
		return scheduling.Entity{}, false, fmt.Errorf("find %s %s: %w", lookup.EntityType, lookup.Code, err)
	}
	switch {
	case len(candidates) == 0:
		r.logger.Debug("correlation key unresolved", "entity_type", lookup.EntityType, "code", lookup.Code)
		return scheduling.Entity{}, false, nil
	case len(candidates) == 1 || opts.ForceSingleEntity:
		return candidates[0], true, nil
	default:
		r.logger.Warn("correlation key ambiguous", "entity_type", lookup.EntityType, "code", lookup.Code, "candidates", len(candidates))
		return scheduling.Entity{}, false, nil
	}
}
