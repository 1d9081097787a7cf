package resource

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
)

// Repository maintains the resource projection and the ephemeral progress rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a resource repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertProjectionTx creates the projection row. The unique index on
// request_id is the at-most-once guard; unique violations bubble up for the
// caller to classify.
func (r *Repository) InsertProjectionTx(tx *gorm.DB, projection models.ResourceProjection) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&projection).Error
}

// UpdateProjectionTx applies a forward-only state change to the projection.
func (r *Repository) UpdateProjectionTx(tx *gorm.DB, projection models.ResourceProjection) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.ResourceProjection{}).
		Where("resource_id = ?", projection.ResourceID).
		Where("version < ?", projection.Version).
		Updates(map[string]any{
			"status":          projection.Status,
			"external_ref":    projection.ExternalRef,
			"address":         projection.Address,
			"address_pending": projection.AddressPending,
			"failure_reason":  projection.FailureReason,
			"version":         projection.Version,
			"updated_at":      projection.UpdatedAt,
		}).Error
}

// UpsertProgressTx writes the single live progress row for a resource.
func (r *Repository) UpsertProgressTx(tx *gorm.DB, progress models.ProvisioningProgress) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "resource_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stage", "updated_at",
		}),
	}).Create(&progress).Error
}

// DeleteProgressTx removes the progress row when a run reaches a terminal state.
func (r *Repository) DeleteProgressTx(tx *gorm.DB, resourceID uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Where("resource_id = ?", resourceID).
		Delete(&models.ProvisioningProgress{}).Error
}

// DeleteStaleProgress removes progress rows not updated since the cutoff.
// Orphans appear when a worker dies mid-run; the cleanup job sweeps them.
func (r *Repository) DeleteStaleProgress(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Delete(&models.ProvisioningProgress{})
	return res.RowsAffected, res.Error
}

// FindByID returns the tenant-scoped projection row.
func (r *Repository) FindByID(ctx context.Context, tenantID, resourceID uuid.UUID) (*models.ResourceProjection, error) {
	var row models.ResourceProjection
	err := r.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
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

// FindByRequestID returns the resource attached to a request, if any.
func (r *Repository) FindByRequestID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.ResourceProjection, error) {
	var row models.ResourceProjection
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

// FindProgress returns the live progress row, nil when no run is in flight.
func (r *Repository) FindProgress(ctx context.Context, tenantID, resourceID uuid.UUID) (*models.ProvisioningProgress, error) {
	var row models.ProvisioningProgress
	err := r.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
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
