package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
)

// RequestProjection is the denormalized read model for VM requests. It is a
// disposable cache over the event stream, never the source of truth.
type RequestProjection struct {
	RequestID      uuid.UUID           `gorm:"column:request_id;type:uuid;primaryKey"`
	TenantID       uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index"`
	RequesterID    uuid.UUID           `gorm:"column:requester_id;type:uuid;not null"`
	RequesterName  string              `gorm:"column:requester_name;not null"`
	ProjectName    string              `gorm:"column:project_name;not null"`
	VMName         string              `gorm:"column:vm_name;not null"`
	Size           enums.VMSize        `gorm:"column:size;type:text;not null"`
	Status         enums.RequestStatus `gorm:"column:status;type:text;not null;index"`
	Justification  string              `gorm:"column:justification;not null"`
	DecidedBy      *uuid.UUID          `gorm:"column:decided_by;type:uuid"`
	DecisionReason *string             `gorm:"column:decision_reason"`
	Degraded       bool                `gorm:"column:degraded;not null;default:false"`
	Version        int64               `gorm:"column:version;not null"`
	CreatedAt      time.Time           `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;not null"`
}

// TableName overrides the GORM default.
func (RequestProjection) TableName() string {
	return "request_projections"
}
