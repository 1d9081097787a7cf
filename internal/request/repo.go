package request

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/dcmlabs/dvmm-backend/pkg/db"
	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	"github.com/dcmlabs/dvmm-backend/pkg/pagination"
)

// Repository maintains the request read models: the denormalized request
// projection and the per-request timeline.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a request repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UpsertProjectionTx writes the projection row inside the command transaction.
// Stale writers lose on the version column; projections only move forward.
func (r *Repository) UpsertProjectionTx(tx *gorm.DB, projection models.RequestProjection) error {
	if tx == nil {
		return errors.New("transaction required")
	}

	var existing models.RequestProjection
	err := tx.Where("request_id = ?", projection.RequestID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&projection).Error
	case err != nil:
		return err
	}

	if existing.Version >= projection.Version {
		return nil
	}
	return tx.Model(&models.RequestProjection{}).
		Where("request_id = ?", projection.RequestID).
		Where("version < ?", projection.Version).
		Updates(map[string]any{
			"status":          projection.Status,
			"decided_by":      projection.DecidedBy,
			"decision_reason": projection.DecisionReason,
			"degraded":        projection.Degraded,
			"version":         projection.Version,
			"updated_at":      projection.UpdatedAt,
		}).Error
}

// InsertTimelineTx appends a timeline row. Duplicate event ids are swallowed
// so redelivery never doubles history.
func (r *Repository) InsertTimelineTx(tx *gorm.DB, entry models.TimelineEntry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := tx.Create(&entry).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_timeline_entries_event") {
			return nil
		}
		return err
	}
	return nil
}

// FindByID returns the tenant-scoped projection row.
func (r *Repository) FindByID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.RequestProjection, error) {
	var row models.RequestProjection
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Where("tenant_id = ?", tenantID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

type listQuery struct {
	tenantID uuid.UUID
	status   *enums.RequestStatus
	cursor   *pagination.Cursor
	limit    int
}

// List returns tenant-scoped requests using cursor pagination, newest first.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.RequestProjection, error) {
	query := r.db.WithContext(ctx).Model(&models.RequestProjection{}).
		Where("tenant_id = ?", opts.tenantID)

	if opts.status != nil {
		query = query.Where("status = ?", *opts.status)
	}
	if opts.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND request_id < ?)",
			opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	query = query.Order("created_at DESC").Order("request_id DESC").Limit(opts.limit)

	var rows []models.RequestProjection
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Timeline returns the full event history for a request, oldest first.
func (r *Repository) Timeline(ctx context.Context, tenantID, requestID uuid.UUID) ([]models.TimelineEntry, error) {
	var rows []models.TimelineEntry
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Where("tenant_id = ?", tenantID).
		Order("occurred_at ASC").
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
