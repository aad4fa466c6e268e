package shadow

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

// SyncTarget narrows one upstream availability pull.
type SyncTarget struct {
	Filter scheduling.CorrelationFilter
}

// SyncService periodically refreshes a shadow schedule from its upstream.
type SyncService struct {
	adapter    *Adapter
	targets    []SyncTarget
	windowDays int
	logger     *logging.Logger

	tick <-chan time.Time
	stop func()
}

type SyncServiceConfig struct {
	Adapter *Adapter

	Targets    []SyncTarget
	Interval   time.Duration
	WindowDays int
	Logger     *logging.Logger

	Tick <-chan time.Time
	Stop func()
}

func NewSyncService(cfg SyncServiceConfig) (*SyncService, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("shadow: sync service requires adapter")
	}

	windowDays := cfg.WindowDays
	if windowDays <= 0 {
		windowDays = 7
	}

	tick := cfg.Tick
	stop := cfg.Stop
	if tick == nil {
		interval := cfg.Interval
		if interval <= 0 {
			interval = 30 * time.Minute
		}
		ticker := time.NewTicker(interval)
		tick = ticker.C
		stop = ticker.Stop
	}

	targets := cfg.Targets
	if len(targets) == 0 {
		targets = []SyncTarget{{}}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &SyncService{
		adapter:    cfg.Adapter,
		targets:    targets,
		windowDays: windowDays,
		logger:     logger,
		tick:       tick,
		stop:       stop,
	}, nil
}

func (s *SyncService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	defer func() {
		if s.stop != nil {
			s.stop()
		}
	}()

	s.syncLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.tick:
			s.syncLogged(ctx)
		}
	}
}

func (s *SyncService) syncLogged(ctx context.Context) {
	if err := s.SyncOnce(ctx); err != nil {
		s.logger.Warn("shadow schedule sync failed", "error", err)
	}
}

// SyncOnce pulls every target and returns the first error.
func (s *SyncService) SyncOnce(ctx context.Context) error {
	if s == nil || s.adapter == nil {
		return errors.New("shadow: sync service not initialized")
	}

	var firstErr error
	for _, target := range s.targets {
		if err := s.adapter.SyncAvailability(ctx, SyncAvailabilityOptions{
			Filter:     target.Filter,
			WindowDays: s.windowDays,
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
