package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconciliationScan recomputes derived payment statuses and flags
	// drift against what is stored.
	TaskReconciliationScan = "reconcile:scan"
)

// NewReconciliationScanTask constructs the reconciliation scan task. The scan
// covers both subdomains and carries no payload.
func NewReconciliationScanTask() *asynq.Task {
	return asynq.NewTask(TaskReconciliationScan, nil)
}
