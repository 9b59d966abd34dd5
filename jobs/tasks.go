package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/salespulse/internal/period"
	"github.com/odyssey-erp/salespulse/internal/revenue"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReportsWarmup precomputes revenue reports for managers and admins.
	TaskReportsWarmup = "reports:warmup"
)

// ReportsWarmupPayload selects the reports to precompute. Empty fields fall
// back to the job defaults.
type ReportsWarmupPayload struct {
	Periods  []period.Token   `json:"periods,omitempty"`
	Policies []revenue.Policy `json:"policies,omitempty"`
}

func (p ReportsWarmupPayload) validate() error {
	for _, t := range p.Periods {
		if _, err := period.ParseToken(string(t)); err != nil {
			return err
		}
	}
	for _, pol := range p.Policies {
		if _, err := revenue.ParsePolicy(string(pol)); err != nil {
			return err
		}
	}
	return nil
}

// NewReportsWarmupTask constructs an Asynq task for report warmup.
func NewReportsWarmupTask(periods []period.Token, policies ...revenue.Policy) (*asynq.Task, error) {
	payload := ReportsWarmupPayload{Periods: periods, Policies: policies}
	if err := payload.validate(); err != nil {
		return nil, fmt.Errorf("reports warmup task: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportsWarmup, body, asynq.Queue(QueueDefault)), nil
}
