package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

type SweepTokensArgs struct{}

func (SweepTokensArgs) Kind() string { return "sweep_tokens" }

// Sweeper drops spent tokens; tokens.Manager implements it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type SweepTokensWorker struct {
	river.WorkerDefaults[SweepTokensArgs]
	sweeper Sweeper
	log     *slog.Logger
}

func NewSweepTokensWorker(sweeper Sweeper, log *slog.Logger) *SweepTokensWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SweepTokensWorker{sweeper: sweeper, log: log}
}

func (w *SweepTokensWorker) Work(ctx context.Context, _ *river.Job[SweepTokensArgs]) error {
	n, err := w.sweeper.SweepExpired(ctx)
	if err != nil {
		return err
	}
	w.log.Debug("token sweep finished", "removed", n)
	return nil
}

func (w *SweepTokensWorker) Timeout(*river.Job[SweepTokensArgs]) time.Duration {
	return 30 * time.Second
}

// PeriodicSweep schedules a SweepTokensArgs job every interval, starting at boot.
func PeriodicSweep(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return SweepTokensArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
