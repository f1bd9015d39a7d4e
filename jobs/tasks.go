package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCatalogWarmup pre-populates the catalog cache for the default
	// dashboard state.
	TaskCatalogWarmup = "catalog:warmup"
)

// CatalogWarmupPayload tunes a warmup run. Invalidate bumps the cache
// version first, which is the path used after the upstream dataset refresh.
type CatalogWarmupPayload struct {
	Invalidate bool `json:"invalidate"`
}

// NewCatalogWarmupTask constructs an Asynq task for a warmup run.
func NewCatalogWarmupTask(payload CatalogWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogWarmup, data), nil
}
