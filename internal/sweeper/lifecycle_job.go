package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/planwright/planwright-backend/pkg/logger"
	"github.com/planwright/planwright-backend/pkg/metrics"
	"go.uber.org/multierr"
)

const defaultHoldTimeout = 30 * time.Minute

// lifecycleRunner is the slice of the reservation manager the sweeper drives.
type lifecycleRunner interface {
	ExpireStalePending(ctx context.Context, holdTimeout time.Duration) (int, error)
	ActivateDueConfirmed(ctx context.Context) (int, error)
	CompleteDueActive(ctx context.Context) (int, error)
}

// LifecycleJobParams configure the reservation lifecycle sweep.
type LifecycleJobParams struct {
	Logger      *logger.Logger
	Runner      lifecycleRunner
	Metrics     *metrics.SweeperJobMetrics
	HoldTimeout time.Duration
}

// NewLifecycleJob builds the job that expires stale pending holds, activates
// confirmed reservations whose window has started, and completes active
// reservations whose window has ended.
func NewLifecycleJob(params LifecycleJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("lifecycle runner required")
	}
	holdTimeout := params.HoldTimeout
	if holdTimeout <= 0 {
		holdTimeout = defaultHoldTimeout
	}
	return &lifecycleJob{
		logg:        params.Logger,
		runner:      params.Runner,
		metrics:     params.Metrics,
		holdTimeout: holdTimeout,
	}, nil
}

type lifecycleJob struct {
	logg        *logger.Logger
	runner      lifecycleRunner
	metrics     *metrics.SweeperJobMetrics
	holdTimeout time.Duration
}

func (j *lifecycleJob) Name() string { return "reservation-lifecycle" }

// Run executes the three phases independently so a failure in one does not
// starve the others.
func (j *lifecycleJob) Run(ctx context.Context) error {
	var errs []error

	expired, err := j.runner.ExpireStalePending(ctx, j.holdTimeout)
	j.report(ctx, "pending_to_expired", expired, err)
	if err != nil {
		errs = append(errs, fmt.Errorf("expire stale pending: %w", err))
	}

	activated, err := j.runner.ActivateDueConfirmed(ctx)
	j.report(ctx, "confirmed_to_active", activated, err)
	if err != nil {
		errs = append(errs, fmt.Errorf("activate due confirmed: %w", err))
	}

	completed, err := j.runner.CompleteDueActive(ctx)
	j.report(ctx, "active_to_completed", completed, err)
	if err != nil {
		errs = append(errs, fmt.Errorf("complete due active: %w", err))
	}

	return multierr.Combine(errs...)
}

func (j *lifecycleJob) report(ctx context.Context, transition string, count int, err error) {
	if j.metrics != nil {
		j.metrics.AddTransitioned(transition, count)
	}
	if err != nil || count == 0 {
		return
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"transition": transition, "count": count})
	j.logg.Info(logCtx, "lifecycle phase complete")
}
