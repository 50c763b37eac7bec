package jobs

import (
	"encoding/json"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileRehabs reconciles rehab records against the latest snapshot feed.
	TaskReconcileRehabs = "rehab:reconcile"
)

// ReconcilePayload scopes a reconciliation run. An empty property means all properties.
type ReconcilePayload struct {
	Property string `json:"property,omitempty"`
}

// NewReconcileTask constructs an Asynq task for reconciling rehab records.
func NewReconcileTask(property string) (*asynq.Task, error) {
	payload := ReconcilePayload{Property: strings.TrimSpace(property)}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileRehabs, body, asynq.Queue(QueueDefault)), nil
}
