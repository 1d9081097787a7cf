package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
)

// ProvisioningProgress is the ephemeral progress row for an in-flight
// provisioning run. It is deleted when the resource reaches a terminal state
// and must not accumulate.
type ProvisioningProgress struct {
	ResourceID uuid.UUID           `gorm:"column:resource_id;type:uuid;primaryKey"`
	RequestID  uuid.UUID           `gorm:"column:request_id;type:uuid;not null;index"`
	TenantID   uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index"`
	Stage      enums.ProgressStage `gorm:"column:stage;type:text;not null"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;not null"`
}

// TableName overrides the GORM default.
func (ProvisioningProgress) TableName() string {
	return "provisioning_progress"
}
