package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/salespulse/internal/actors"
	jobmetrics "github.com/odyssey-erp/salespulse/internal/jobs"
	"github.com/odyssey-erp/salespulse/internal/period"
	"github.com/odyssey-erp/salespulse/internal/revenue"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ViewerLister lists directory actors by role. actors.Repository implements it.
type ViewerLister interface {
	ListByRoles(ctx context.Context, roles ...actors.Role) ([]actors.Actor, error)
}

// Reporter builds one revenue report. revenue.Service implements it.
type Reporter interface {
	Report(ctx context.Context, req revenue.ReportRequest) (revenue.Result, error)
}

// ReportsWarmupJob fills the report cache for every admin and sale_admin so
// their dashboards open on a cache hit.
type ReportsWarmupJob struct {
	Reports        Reporter
	Viewers        ViewerLister
	Logger         *slog.Logger
	Metrics        *jobmetrics.Metrics
	DefaultPeriods []period.Token
	clock          func() time.Time
}

// NewReportsWarmupJob wires dependencies for the warmup handler.
func NewReportsWarmupJob(reports Reporter, viewers ViewerLister, logger *slog.Logger, metrics *jobmetrics.Metrics, defaults []period.Token) *ReportsWarmupJob {
	return &ReportsWarmupJob{
		Reports:        reports,
		Viewers:        viewers,
		Logger:         logger,
		Metrics:        metrics,
		DefaultPeriods: defaults,
		clock:          time.Now,
	}
}

// Handle processes reports:warmup tasks. Failures for one viewer do not stop
// the others; the joined error makes Asynq retry the task.
func (j *ReportsWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reports == nil || j.Viewers == nil {
		return errors.New("reports warmup: handler not configured")
	}
	var payload ReportsWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("reports warmup: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.validate(); err != nil {
		return fmt.Errorf("reports warmup: %v: %w", err, asynq.SkipRetry)
	}
	periods := payload.Periods
	if len(periods) == 0 {
		periods = j.DefaultPeriods
	}
	if len(periods) == 0 {
		periods = []period.Token{period.ThisMonth}
	}
	policies := payload.Policies
	if len(policies) == 0 {
		policies = []revenue.Policy{revenue.PolicyFunnel, revenue.PolicyCompletedOnly}
	}

	tracker := j.metrics().Track(TaskReportsWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	viewers, err := j.Viewers.ListByRoles(ctx, actors.RoleAdmin, actors.RoleSaleAdmin)
	if err != nil {
		logger.Error("load warmup viewers", slog.Any("error", err))
		return err
	}
	if len(viewers) == 0 {
		logger.Info("no viewers discovered for warmup")
		return nil
	}

	start := j.now()
	var failures []error
	for _, p := range periods {
		warmed := 0
		for _, viewer := range viewers {
			for _, policy := range policies {
				if err := j.warm(ctx, viewer, p, policy, start); err != nil {
					if ctx.Err() != nil {
						return errors.Join(append(failures, ctx.Err())...)
					}
					logger.Warn("warm report",
						slog.String("viewer_id", viewer.ID),
						slog.String("period", string(p)),
						slog.String("policy", string(policy)),
						slog.Any("error", err))
					failures = append(failures, fmt.Errorf("%s/%s/%s: %w", viewer.ID, p, policy, err))
					continue
				}
				warmed++
			}
		}
		j.metrics().AddWarmed(string(p), warmed)
	}

	logger.Info("completed reports warmup",
		slog.Int("viewers", len(viewers)),
		slog.Int("periods", len(periods)),
		slog.Int("failures", len(failures)),
		slog.Duration("duration", time.Since(start)))
	return errors.Join(failures...)
}

func (j *ReportsWarmupJob) warm(ctx context.Context, viewer actors.Actor, p period.Token, policy revenue.Policy, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	_, err := j.Reports.Report(ctx, revenue.ReportRequest{Viewer: viewer, Period: p, Policy: policy, Now: now})
	return err
}

func (j *ReportsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskReportsWarmup))
}

func (j *ReportsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReportsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
