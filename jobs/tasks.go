package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIntegritySweep re-validates stored audit integrity hashes.
	TaskIntegritySweep = "audit:integrity_sweep"
)

// IntegritySweepPayload selects what a sweep run covers. An empty Flavors
// slice means every trail.
type IntegritySweepPayload struct {
	Flavors  []string `json:"flavors,omitempty"`
	PageSize int      `json:"page_size,omitempty"`
}

// NewIntegritySweepTask constructs an Asynq task.
func NewIntegritySweepTask(payload IntegritySweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegritySweep, data), nil
}
