package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity scans the ledger for sources that do not net to zero.
	TaskLedgerIntegrity = "ledger:integrity"
)

// IntegrityPayload tags a scan with whoever asked for it. Scheduled runs leave it empty.
type IntegrityPayload struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// NewIntegrityTask constructs the ledger integrity task.
func NewIntegrityTask(payload IntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data, asynq.MaxRetry(3)), nil
}

// NewTask builds a task by type name, as used by the CLI trigger.
func NewTask(taskType, requestedBy string) (*asynq.Task, error) {
	switch taskType {
	case TaskLedgerIntegrity:
		return NewIntegrityTask(IntegrityPayload{RequestedBy: requestedBy})
	default:
		return nil, fmt.Errorf("jobs: unknown task %q", taskType)
	}
}
