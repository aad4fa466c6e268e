package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/wolfman30/scheduling-integrator/internal/config"
	"github.com/wolfman30/scheduling-integrator/internal/entitystore"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

// BuildEntityRepository connects the Postgres entity store, or returns an
// in-memory store when DATABASE_URL is empty. The returned func releases the pool.
func BuildEntityRepository(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (entitystore.Repository, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set; using in-memory entity store")
		return entitystore.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("entity store configured", "backend", "postgres")
	return entitystore.NewPGStore(pool), pool.Close, nil
}
