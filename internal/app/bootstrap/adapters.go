package bootstrap

import (
	"strings"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	appconfig "github.com/wolfman30/scheduling-integrator/internal/config"
	"github.com/wolfman30/scheduling-integrator/internal/emr/nextech"
	"github.com/wolfman30/scheduling-integrator/internal/emr/shadow"
	"github.com/wolfman30/scheduling-integrator/internal/observability/metrics"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

// shadowUpstreamKey names the credential selecting the provider a shadow
// schedule mirrors.
const shadowUpstreamKey = "upstream"

// BuildRegistry registers every provider adapter behind the instrumented
// middleware.
func BuildRegistry(cfg *appconfig.Config, m *metrics.IntegrationMetrics, logger *logging.Logger) *booking.Registry {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		cfg = &appconfig.Config{}
	}

	registry := booking.NewRegistry(booking.Instrumented(booking.InstrumentConfig{
		Metrics: m,
		Logger:  logger,
		Timeout: cfg.AdapterCallTimeout,
	}))
	nextechFactory := nextech.NewFactory(nextech.Config{
		BaseURL:      cfg.NextechBaseURL,
		ClientID:     cfg.NextechClientID,
		ClientSecret: cfg.NextechClientSecret,
		Timeout:      cfg.AdapterCallTimeout,
	})
	registry.Register(nextech.ProviderName, nextechFactory)
	registry.Register(shadow.ProviderName, shadow.NewFactory(shadow.Config{
		UpstreamFor: func(integration scheduling.Integration) (shadow.AvailabilitySource, error) {
			if !strings.EqualFold(integration.Credential(shadowUpstreamKey, ""), nextech.ProviderName) {
				return nil, nil
			}
			upstream, err := nextechFactory(integration)
			if err != nil {
				return nil, err
			}
			return upstream, nil
		},
	}))
	logger.Info("adapter registry configured", "providers", registry.Providers())
	return registry
}
