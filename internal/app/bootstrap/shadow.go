package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	appconfig "github.com/wolfman30/scheduling-integrator/internal/config"
	"github.com/wolfman30/scheduling-integrator/internal/emr/shadow"
	"github.com/wolfman30/scheduling-integrator/internal/integrator"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

// BuildShadowSyncers returns one sync service per shadow integration that
// mirrors an upstream. Nothing is built unless SHADOW_SYNC_ENABLED is set.
func BuildShadowSyncers(ctx context.Context, cfg *appconfig.Config, registry *booking.Registry, source integrator.Source, logger *logging.Logger) ([]*shadow.SyncService, error) {
	if cfg == nil || !cfg.ShadowSyncEnabled {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	integrations, err := source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: list integrations: %w", err)
	}

	var syncers []*shadow.SyncService
	for _, integration := range integrations {
		if !strings.EqualFold(integration.Provider, shadow.ProviderName) || integration.Credential(shadowUpstreamKey, "") == "" {
			continue
		}
		adapter, err := registry.Resolve(integration)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: resolve %s: %w", integration.ID, err)
		}
		schedule, ok := shadowAdapter(adapter)
		if !ok {
			return nil, fmt.Errorf("bootstrap: integration %s is not backed by a shadow schedule", integration.ID)
		}
		syncer, err := shadow.NewSyncService(shadow.SyncServiceConfig{
			Adapter:    schedule,
			Interval:   cfg.ShadowSyncInterval,
			WindowDays: cfg.ShadowSyncWindowDays,
			Logger:     logger.WithIntegration(integration.ID, shadow.ProviderName),
		})
		if err != nil {
			return nil, err
		}
		syncers = append(syncers, syncer)
	}
	logger.Info("shadow sync configured", "integrations", len(syncers))
	return syncers, nil
}

func shadowAdapter(adapter booking.Adapter) (*shadow.Adapter, bool) {
	for adapter != nil {
		if s, ok := adapter.(*shadow.Adapter); ok {
			return s, true
		}
		u, ok := adapter.(interface{ Unwrap() booking.Adapter })
		if !ok {
			return nil, false
		}
		adapter = u.Unwrap()
	}
	return nil, false
}
