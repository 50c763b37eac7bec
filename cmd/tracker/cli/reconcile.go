package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/turnover-ops/turnover/internal/rehab"
)

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Reconcile(ctx context.Context, property string) (rehab.ReconcileResult, error)
}

// ReconcileCLI runs reconciliation synchronously from the command line.
type ReconcileCLI struct {
	reconciler Reconciler
}

// NewReconcileCLI constructs the helper.
func NewReconcileCLI(reconciler Reconciler) (*ReconcileCLI, error) {
	if reconciler == nil {
		return nil, errors.New("reconcile cli: reconciler not configured")
	}
	return &ReconcileCLI{reconciler: reconciler}, nil
}

// ReconcileOptions defines available flags for the reconcile command.
type ReconcileOptions struct {
	Property   string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary describes the JSON output of the reconcile command.
type ReconcileSummary struct {
	Property     string `json:"property"`
	Active       int    `json:"active"`
	PendingSetup int    `json:"pending_setup"`
	Completed    int    `json:"completed"`
	TotalUnits   int    `json:"total_units"`
	Created      int    `json:"created"`
	Archived     int    `json:"archived"`
	Failed       int    `json:"failed"`
	Skipped      bool   `json:"skipped"`
}

// ReconcileCommand runs a pass and prints the outcome. It exits 10 when some
// units failed so schedulers can alert on partial runs.
func (c *ReconcileCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	result, err := c.reconciler.Reconcile(ctx, opts.Property)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	summary := buildReconcileSummary(opts.Property, result)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, summary)
	}
	if summary.Failed > 0 {
		return 10
	}
	return 0
}

func buildReconcileSummary(property string, result rehab.ReconcileResult) ReconcileSummary {
	summary := ReconcileSummary{
		Property:   property,
		Active:     len(result.Rehabs),
		Completed:  len(result.Completed),
		TotalUnits: result.TotalUnits,
		Created:    result.Created,
		Archived:   result.Archived,
		Failed:     result.Failed,
		Skipped:    result.Skipped,
	}
	if summary.Property == "" {
		summary.Property = "all"
	}
	for _, rec := range result.Rehabs {
		if rec.RehabStatus == rehab.RehabNotStarted {
			summary.PendingSetup++
		}
	}
	return summary
}

func renderReconcileHuman(out io.Writer, s ReconcileSummary) {
	if s.Skipped {
		_, _ = fmt.Fprintf(out, "Reconcile for %s skipped: another instance holds the lock.\n", s.Property)
		return
	}
	_, _ = fmt.Fprintf(out, "Reconciled %s: %d active (%d not started), %d completed, %d units in feed\n",
		s.Property, s.Active, s.PendingSetup, s.Completed, s.TotalUnits)
	_, _ = fmt.Fprintf(out, "created=%d archived=%d failed=%d\n", s.Created, s.Archived, s.Failed)
}
