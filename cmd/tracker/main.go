package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/turnover-ops/turnover/cmd/tracker/cli"
	"github.com/turnover-ops/turnover/internal/app"
	"github.com/turnover-ops/turnover/internal/observability"
	"github.com/turnover-ops/turnover/internal/platform/cache"
	"github.com/turnover-ops/turnover/internal/platform/db"
	rehabhttp "github.com/turnover-ops/turnover/internal/rehab/http"
	"github.com/turnover-ops/turnover/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 {
		os.Exit(runCommand(ctx, cfg, logger, os.Args[1], os.Args[2:]))
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var locks redis.Cmdable
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, reconciling without lock", slog.Any("error", err))
	} else {
		locks = redisClient
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	stack, err := app.NewRehabStack(cfg, dbpool, locks, metrics, logger)
	if err != nil {
		logger.Error("init rehab stack", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("exemption policy loaded",
		slog.String("policy", stack.Policy.Name),
		slog.Int("vendor_key_exempt_properties", len(stack.Policy.VendorKeyExemptProperties)))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		RehabHandler: rehabhttp.NewHandler(logger, stack.Service),
		JobHandler:   jobs.NewHandler(inspector, jobClient, logger),
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runCommand handles the operational subcommands:
//
//	tracker reconcile [-property P] [-json]
//	tracker enqueue [-property P]
//	tracker queue
func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, name string, args []string) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	property := fs.String("property", "", "limit to one property")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	switch name {
	case "reconcile":
		dbpool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			return 1
		}
		defer dbpool.Close()
		var locks redis.Cmdable
		if redisClient, err := cache.New(ctx, cfg.RedisAddr); err != nil {
			logger.Warn("redis unavailable, reconciling without lock", slog.Any("error", err))
		} else {
			locks = redisClient
			defer redisClient.Close()
		}
		stack, err := app.NewRehabStack(cfg, dbpool, locks, nil, logger)
		if err != nil {
			logger.Error("init rehab stack", slog.Any("error", err))
			return 1
		}
		command, err := cli.NewReconcileCLI(stack.Reconciler)
		if err != nil {
			logger.Error("init reconcile cli", slog.Any("error", err))
			return 1
		}
		return command.ReconcileCommand(ctx, cli.ReconcileOptions{Property: *property, JSONOutput: *jsonOut})
	case "enqueue", "queue":
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			logger.Error("init jobs cli", slog.Any("error", err))
			return 1
		}
		defer jobsCLI.Close()
		if name == "queue" {
			stats, err := jobsCLI.InspectQueue(ctx)
			if err != nil {
				logger.Error("inspect queue", slog.Any("error", err))
				return 1
			}
			logger.Info("queue stats",
				slog.String("queue", stats.Queue),
				slog.Int("pending", stats.Pending),
				slog.Int("active", stats.Active),
				slog.Int("scheduled", stats.Scheduled),
				slog.Int("retry", stats.Retry))
			scheduled, err := jobsCLI.ListScheduled(ctx, 10)
			if err != nil {
				logger.Error("list scheduled", slog.Any("error", err))
				return 1
			}
			for _, info := range scheduled {
				logger.Info("scheduled task",
					slog.String("task_id", info.ID),
					slog.String("type", info.Type),
					slog.Time("next_process_at", info.NextProcessAt))
			}
			return 0
		}
		info, err := jobsCLI.Trigger(ctx, jobs.TaskReconcileRehabs, *property)
		if err != nil {
			logger.Error("enqueue reconcile", slog.Any("error", err))
			return 1
		}
		logger.Info("reconcile enqueued", slog.String("task_id", info.ID), slog.String("queue", info.Queue))
		return 0
	default:
		logger.Error("unknown command", slog.String("command", name))
		return 2
	}
}
