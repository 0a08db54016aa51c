package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const backlogReportInterval = time.Minute

// Runner schedules publish cycles on a gocron scheduler. Cycles never
// overlap within one process; other processes are kept apart by the claim.
type Runner struct {
	publisher *Publisher
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

func NewRunner(publisher *Publisher, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create outbox scheduler: %w", err)
	}
	return &Runner{publisher: publisher, scheduler: scheduler, logger: logger}, nil
}

// Start registers the publish job and blocks until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	interval := r.publisher.Config().Interval
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			r.publisher.Tick(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("outbox-publisher"),
	)
	if err != nil {
		return fmt.Errorf("schedule outbox publisher: %w", err)
	}
	_, err = r.scheduler.NewJob(
		gocron.DurationJob(backlogReportInterval),
		gocron.NewTask(func() {
			r.publisher.ReportBacklog(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("outbox-backlog-report"),
	)
	if err != nil {
		return fmt.Errorf("schedule outbox backlog report: %w", err)
	}

	r.logger.Info("Starting outbox publisher", zap.Duration("interval", interval),
		zap.Int("batch_size", r.publisher.Config().BatchSize))
	r.scheduler.Start()

	<-ctx.Done()

	r.logger.Info("Stopping outbox publisher")
	return r.scheduler.Shutdown()
}
