package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
)

// DomainEvent is one persisted event in an aggregate stream. Rows are
// append-only; the schema carries a trigger that rejects UPDATE and DELETE
// so immutability holds even if application code regresses.
type DomainEvent struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	StreamID      uuid.UUID           `gorm:"column:stream_id;type:uuid;not null;uniqueIndex:ux_domain_events_stream_version,priority:1"`
	AggregateType enums.AggregateType `gorm:"column:aggregate_type;type:text;not null"`
	TenantID      uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index"`
	Version       int64               `gorm:"column:version;not null;uniqueIndex:ux_domain_events_stream_version,priority:2"`
	EventType     enums.EventType     `gorm:"column:event_type;type:text;not null"`
	SchemaVersion int                 `gorm:"column:schema_version;not null;default:1"`
	Payload       json.RawMessage     `gorm:"column:payload;type:jsonb;not null"`
	ActorID       uuid.UUID           `gorm:"column:actor_id;type:uuid;not null"`
	CorrelationID uuid.UUID           `gorm:"column:correlation_id;type:uuid;not null;index"`
	OccurredAt    time.Time           `gorm:"column:occurred_at;not null"`
	RecordedAt    time.Time           `gorm:"column:recorded_at;autoCreateTime"`
}

// TableName overrides the GORM default.
func (DomainEvent) TableName() string {
	return "domain_events"
}
