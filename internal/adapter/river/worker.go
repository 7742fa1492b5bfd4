package river

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

// TransitionWorker processes transition jobs from the River queue. It writes
// one structured audit line per transition; removals are logged at warn level.
type TransitionWorker struct {
	river.WorkerDefaults[TransitionJobArgs]

	logger *slog.Logger
}

// NewTransitionWorker creates a worker logging to logger, or to the default
// logger when nil.
func NewTransitionWorker(logger *slog.Logger) *TransitionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionWorker{logger: logger}
}

// Work processes a single transition job.
func (w *TransitionWorker) Work(ctx context.Context, job *river.Job[TransitionJobArgs]) error {
	level := slog.LevelInfo
	msg := "transition applied"
	if job.Args.To == string(domain.StateRemoved) {
		level = slog.LevelWarn
		msg = "record removed"
	}

	w.logger.Log(ctx, level, msg,
		"entity_id", job.Args.EntityID,
		"kind", job.Args.EntityKind,
		"action", job.Args.Action,
		"from", job.Args.From,
		"to", job.Args.To,
		"actor", job.Args.Actor,
		"effects", job.Args.Effects,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}
