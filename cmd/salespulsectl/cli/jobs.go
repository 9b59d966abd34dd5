package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/salespulse/internal/period"
	"github.com/odyssey-erp/salespulse/internal/revenue"
	"github.com/odyssey-erp/salespulse/jobs"
)

// Enqueuer submits report warm-up tasks.
type Enqueuer interface {
	EnqueueReportsWarmup(ctx context.Context, periods []period.Token, policies ...revenue.Policy) (*asynq.TaskInfo, error)
}

// QueueInspector reports queue depth.
type QueueInspector interface {
	Stats(ctx context.Context) (jobs.QueueStats, error)
}

// JobsCLI wraps manual helpers for the background queue.
type JobsCLI struct {
	client    Enqueuer
	inspector QueueInspector
}

// NewJobsCLI builds the helpers from explicit collaborators.
func NewJobsCLI(client Enqueuer, inspector QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// TriggerOptions controls a manual enqueue.
type TriggerOptions struct {
	Name     string
	Periods  []string
	Policies []string
	Stdout   io.Writer
	Stderr   io.Writer
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, opts TriggerOptions) int {
	info, err := c.trigger(ctx, opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
		return exitCode(err)
	}
	fmt.Fprintf(opts.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return ExitOK
}

func (c *JobsCLI) trigger(ctx context.Context, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("client not configured")
	}
	if opts.Name != jobs.TaskReportsWarmup {
		return nil, fmt.Errorf("unsupported job %q: %w", opts.Name, errMissingFlag)
	}
	periods := make([]period.Token, 0, len(opts.Periods))
	for _, raw := range opts.Periods {
		token, err := period.ParseToken(raw)
		if err != nil {
			return nil, err
		}
		periods = append(periods, token)
	}
	policies := make([]revenue.Policy, 0, len(opts.Policies))
	for _, raw := range opts.Policies {
		p, err := revenue.ParsePolicy(raw)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return c.client.EnqueueReportsWarmup(ctx, periods, policies...)
}

// Stats prints the default queue counters as JSON.
func (c *JobsCLI) Stats(ctx context.Context, stdout, stderr io.Writer) int {
	if c == nil || c.inspector == nil {
		fmt.Fprintln(stderr, "jobs stats: inspector not configured")
		return ExitFailure
	}
	stats, err := c.inspector.Stats(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "jobs stats: %v\n", err)
		return ExitFailure
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		return ExitFailure
	}
	return ExitOK
}

// AsynqInspector adapts *asynq.Inspector to QueueInspector.
type AsynqInspector struct {
	Inspector *asynq.Inspector
}

// Stats implements QueueInspector.
func (a AsynqInspector) Stats(ctx context.Context) (jobs.QueueStats, error) {
	return jobs.InspectQueue(a.Inspector)
}
