package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
)

// ResourceProjection is the read model for provisioned VM resources. The
// unique index on request_id is the authoritative at-most-once guard for
// resource creation under duplicate event delivery.
type ResourceProjection struct {
	ResourceID     uuid.UUID            `gorm:"column:resource_id;type:uuid;primaryKey"`
	RequestID      uuid.UUID            `gorm:"column:request_id;type:uuid;not null;uniqueIndex:ux_resource_projections_request"`
	TenantID       uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null;index"`
	Status         enums.ResourceStatus `gorm:"column:status;type:text;not null"`
	ExternalRef    *string              `gorm:"column:external_ref"`
	Address        *string              `gorm:"column:address"`
	AddressPending bool                 `gorm:"column:address_pending;not null;default:false"`
	FailureReason  *string              `gorm:"column:failure_reason"`
	Version        int64                `gorm:"column:version;not null"`
	CreatedAt      time.Time            `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;not null"`
}

// TableName overrides the GORM default.
func (ResourceProjection) TableName() string {
	return "resource_projections"
}
