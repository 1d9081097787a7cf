package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/dcmlabs/dvmm-backend/pkg/logger"
)

const (
	defaultOutboxRetentionDays = 30
	defaultOutboxBatchSize     = 500
)

type outboxRetentionRepo interface {
	DeletePublishedBefore(cutoff time.Time, limit int) (int64, error)
}

// OutboxRetentionJobParams configure the published outbox sweeper.
type OutboxRetentionJobParams struct {
	Logger        *logger.Logger
	Repository    outboxRetentionRepo
	RetentionDays int
	BatchSize     int
}

// NewOutboxRetentionJob deletes outbox rows that were published long enough
// ago. Deletion is batched so one cycle never holds a large delete.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = defaultOutboxRetentionDays
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultOutboxBatchSize
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	repo      outboxRetentionRepo
	retention int
	batchSize int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := j.repo.DeletePublishedBefore(cutoff, j.batchSize)
		if err != nil {
			return fmt.Errorf("outbox retention: %w", err)
		}
		total += deleted
		if deleted < int64(j.batchSize) {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   total,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
