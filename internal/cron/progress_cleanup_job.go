package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/dcmlabs/dvmm-backend/pkg/logger"
)

const defaultProgressMaxAge = 24 * time.Hour

type progressCleanupRepo interface {
	DeleteStaleProgress(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProgressCleanupJobParams configure the stale progress sweeper.
type ProgressCleanupJobParams struct {
	Logger     *logger.Logger
	Repository progressCleanupRepo
	MaxAge     time.Duration
}

// NewProgressCleanupJob removes provisioning progress rows that stopped
// updating. A row that old belongs to a run that died without reaching a
// terminal state, so the checkpoint is noise.
func NewProgressCleanupJob(params ProgressCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("resource repository required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultProgressMaxAge
	}
	return &progressCleanupJob{
		logg:   params.Logger,
		repo:   params.Repository,
		maxAge: maxAge,
		now:    time.Now,
	}, nil
}

type progressCleanupJob struct {
	logg   *logger.Logger
	repo   progressCleanupRepo
	maxAge time.Duration
	now    func() time.Time
}

func (j *progressCleanupJob) Name() string { return "progress-cleanup" }

func (j *progressCleanupJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	deleted, err := j.repo.DeleteStaleProgress(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("progress cleanup: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "stale progress cleanup complete")
	return nil
}
