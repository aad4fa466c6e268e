package bootstrap

import (
	"fmt"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/cachestore"
	appconfig "github.com/wolfman30/scheduling-integrator/internal/config"
	"github.com/wolfman30/scheduling-integrator/internal/correlation"
	"github.com/wolfman30/scheduling-integrator/internal/entitycache"
	"github.com/wolfman30/scheduling-integrator/internal/entitystore"
	"github.com/wolfman30/scheduling-integrator/internal/flow"
	"github.com/wolfman30/scheduling-integrator/internal/integrator"
	"github.com/wolfman30/scheduling-integrator/internal/observability/metrics"
	"github.com/wolfman30/scheduling-integrator/internal/patientschedule"
	"github.com/wolfman30/scheduling-integrator/internal/reschedule"
	"github.com/wolfman30/scheduling-integrator/internal/sameday"
	"github.com/wolfman30/scheduling-integrator/internal/search"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

// ServiceDeps are the infrastructure pieces the facade is assembled from.
type ServiceDeps struct {
	Registry *booking.Registry
	Entities entitystore.Repository
	Cache    cachestore.Store
	Flows    flow.Matcher
	Metrics  *metrics.IntegrationMetrics
	Logger   *logging.Logger
}

// BuildService wires the scheduling facade and its use cases.
func BuildService(cfg *appconfig.Config, deps ServiceDeps) (*integrator.Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Registry == nil || deps.Entities == nil || deps.Cache == nil {
		return nil, fmt.Errorf("bootstrap: registry, entities and cache are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	flows := deps.Flows
	if flows == nil {
		flows = flow.PassThrough{}
	}

	resolver := correlation.NewResolver(entitystore.RepositoryFinder{Repo: deps.Entities}, logger)
	schedules := patientschedule.New(patientschedule.Config{
		Adapters: deps.Registry,
		Resolver: resolver,
		Entities: deps.Entities,
		Flows:    flows,
		Cache:    deps.Cache,
		TTL:      cfg.PatientSchedulesCacheTTL,
		Logger:   logger,
	})
	orchestrator := search.New(search.Config{
		Entities:         deps.Entities,
		Flows:            flows,
		SameDay:          &sameday.Policy{History: schedules},
		History:          schedules,
		Metrics:          deps.Metrics,
		Logger:           logger,
		DefaultSplitDays: cfg.SearchSplitDays,
	})

	return integrator.New(integrator.Config{
		Adapters: deps.Registry,
		Resolver: resolver,
		Entities: deps.Entities,
		EntityCache: entitycache.New(deps.Cache, entitycache.Options{
			Logger:  logger,
			Metrics: deps.Metrics,
		}),
		Flows:       flows,
		Search:      orchestrator,
		Rescheduler: reschedule.New(deps.Metrics, logger),
		Schedules:   schedules,
		Cache:       deps.Cache,
		PatientTTL:  cfg.PatientCacheTTL,
		Logger:      logger,
	})
}

// BuildFlowMatcher loads FLOW_RULES_FILE, or passes every entity through when
// no file is configured.
func BuildFlowMatcher(cfg *appconfig.Config, logger *logging.Logger) (flow.Matcher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || cfg.FlowRulesFile == "" {
		logger.Info("flow matcher configured", "mode", "pass-through")
		return flow.PassThrough{}, nil
	}
	rules, err := flow.LoadRules(cfg.FlowRulesFile)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("flow matcher configured", "mode", "rules",
		"rules", len(rules.Rules),
		"exclusions", len(rules.Exclusions),
	)
	return rules, nil
}
