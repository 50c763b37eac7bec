package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/turnover-ops/turnover/internal/jobs"
	"github.com/turnover-ops/turnover/internal/rehab"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Reconciler describes the rehab reconciliation entry point used by the job.
type Reconciler interface {
	Reconcile(ctx context.Context, property string) (rehab.ReconcileResult, error)
}

// ReconcileJob runs rehab reconciliation off the request path so records for
// new vacancy cycles exist before anyone opens the listing.
type ReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Reconciler: reconciler,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconcile job.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("rehab reconcile: dependencies not configured")
	}
	var payload ReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("rehab reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.metrics().Track(TaskReconcileRehabs)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	result, err := j.Reconciler.Reconcile(ctx, payload.Property)
	if err != nil {
		resultErr = err
		j.log().Error("reconcile rehabs", slog.String("property", payload.Property), slog.Any("error", err))
		return resultErr
	}
	if result.Skipped {
		j.metrics().Skip(TaskReconcileRehabs)
		j.log().Info("reconcile skipped, write lock held", slog.String("property", payload.Property))
		return resultErr
	}

	j.log().Info("reconciled rehabs",
		slog.String("property", payload.Property),
		slog.Int("active", len(result.Rehabs)),
		slog.Int("created", result.Created),
		slog.Int("archived", result.Archived),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileRehabs))
	}
	return slog.Default().With(slog.String("job", TaskReconcileRehabs))
}

func (j *ReconcileJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ReconcileJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
