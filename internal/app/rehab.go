package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/turnover-ops/turnover/internal/observability"
	"github.com/turnover-ops/turnover/internal/rehab"
	"github.com/turnover-ops/turnover/internal/shared"
	"github.com/turnover-ops/turnover/internal/snapshots"
	"github.com/turnover-ops/turnover/internal/vacancy"
)

// RehabStack is the rehab wiring shared by the API server, the worker and the CLI.
type RehabStack struct {
	Service    *rehab.Service
	Reconciler *rehab.Reconciler
	Policy     *rehab.ExemptionPolicy
}

// NewRehabStack builds the rehab service over Postgres. redisClient may be
// nil, in which case reconciliation runs without the cross-instance lock.
func NewRehabStack(cfg *Config, pool *pgxpool.Pool, redisClient redis.Cmdable, metrics *observability.Metrics, logger *slog.Logger) (*RehabStack, error) {
	policy, err := rehab.LoadExemptionPolicy(cfg.ExemptionPolicyFile, cfg.VendorKeyExemptProperties)
	if err != nil {
		return nil, fmt.Errorf("app: exemption policy: %w", err)
	}

	feed := snapshots.NewStore(pool)
	resolver := vacancy.NewResolver(feed)
	store := rehab.NewRepository(pool)

	reconcilerCfg := rehab.ReconcilerConfig{
		Feed:     feed,
		Resolver: resolver,
		Store:    store,
		Policy:   policy,
		Metrics:  metrics,
		Logger:   logger,
	}
	if redisClient != nil {
		reconcilerCfg.Locker = shared.NewRedisLocker(redisClient, cfg.ReconcileLockTTL)
	}
	reconciler := rehab.NewReconciler(reconcilerCfg)

	return &RehabStack{
		Service:    rehab.NewService(store, reconciler, feed, resolver, policy, logger),
		Reconciler: reconciler,
		Policy:     policy,
	}, nil
}
