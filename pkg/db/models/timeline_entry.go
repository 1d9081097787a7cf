package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
)

// TimelineEntry is one row of the per-request audit history shown to users.
// The unique index on event_id makes inserts idempotent under at-least-once
// delivery.
type TimelineEntry struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EventID    uuid.UUID       `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_timeline_entries_event"`
	RequestID  uuid.UUID       `gorm:"column:request_id;type:uuid;not null;index"`
	TenantID   uuid.UUID       `gorm:"column:tenant_id;type:uuid;not null;index"`
	EventType  enums.EventType `gorm:"column:event_type;type:text;not null"`
	ActorID    uuid.UUID       `gorm:"column:actor_id;type:uuid;not null"`
	Detail     json.RawMessage `gorm:"column:detail;type:jsonb"`
	OccurredAt time.Time       `gorm:"column:occurred_at;not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides the GORM default.
func (TimelineEntry) TableName() string {
	return "timeline_entries"
}
