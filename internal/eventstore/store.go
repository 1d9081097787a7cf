package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/dcmlabs/dvmm-backend/pkg/db"
	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/registry"
)

// NewStream is the expected version for appends that open a stream.
const NewStream int64 = 0

// StreamRef identifies the stream an append targets.
type StreamRef struct {
	StreamID      uuid.UUID
	AggregateType enums.AggregateType
	TenantID      uuid.UUID
}

// PendingEvent is a not-yet-persisted event produced by a command handler.
type PendingEvent struct {
	Type          enums.EventType
	SchemaVersion int
	Payload       interface{}
	ActorID       uuid.UUID
	CorrelationID uuid.UUID
	OccurredAt    time.Time
}

// Event is a persisted, decoded stream event.
type Event struct {
	ID            uuid.UUID
	StreamID      uuid.UUID
	AggregateType enums.AggregateType
	TenantID      uuid.UUID
	Version       int64
	Type          enums.EventType
	SchemaVersion int
	Payload       interface{}
	ActorID       uuid.UUID
	CorrelationID uuid.UUID
	OccurredAt    time.Time
	RecordedAt    time.Time
}

// Store persists aggregate streams in the domain_events table. Appends use
// expected-version optimistic concurrency; the unique (stream_id, version)
// index is the arbiter, not any in-process lock.
type Store struct {
	db       *gorm.DB
	decoders *registry.DecoderRegistry
	logg     *logger.Logger
}

func NewStore(db *gorm.DB, decoders *registry.DecoderRegistry, logg *logger.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if decoders == nil {
		return nil, errors.New("decoder registry is required")
	}
	return &Store{db: db, decoders: decoders, logg: logg}, nil
}

// Append writes events to the stream inside the caller's transaction.
// expectedVersion is the version the caller last observed; NewStream opens a
// stream. A concurrent writer surfaces as CodeConflict via the unique index.
func (s *Store) Append(ctx context.Context, tx *gorm.DB, stream StreamRef, expectedVersion int64, events []PendingEvent) ([]models.DomainEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if len(events) == 0 {
		return nil, errors.New("at least one event required")
	}
	if stream.StreamID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stream id is required")
	}
	if stream.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if !stream.AggregateType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid aggregate type")
	}
	if expectedVersion < NewStream {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expected version must be non-negative")
	}

	rows := make([]models.DomainEvent, 0, len(events))
	now := time.Now().UTC()
	for i, ev := range events {
		if !ev.Type.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid event type")
		}
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding event payload")
		}
		schemaVersion := ev.SchemaVersion
		if schemaVersion <= 0 {
			schemaVersion = 1
		}
		occurredAt := ev.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = now
		}
		rows = append(rows, models.DomainEvent{
			ID:            uuid.New(),
			StreamID:      stream.StreamID,
			AggregateType: stream.AggregateType,
			TenantID:      stream.TenantID,
			Version:       expectedVersion + int64(i) + 1,
			EventType:     ev.Type,
			SchemaVersion: schemaVersion,
			Payload:       payload,
			ActorID:       ev.ActorID,
			CorrelationID: ev.CorrelationID,
			OccurredAt:    occurredAt,
		})
	}

	if err := tx.Create(&rows).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_domain_events_stream_version") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "stream version conflict")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "appending events")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"stream_id":    stream.StreamID.String(),
			"event_count":  len(rows),
			"last_version": rows[len(rows)-1].Version,
		})
		s.logg.Debug(logCtx, "events appended")
	}
	return rows, nil
}

// Load reads the full stream ordered by version and decodes each payload.
// A stream owned by another tenant reads as not found; existence is never
// revealed across tenants.
func (s *Store) Load(ctx context.Context, streamID uuid.UUID, tenantID uuid.UUID) ([]Event, error) {
	if streamID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stream id is required")
	}
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}

	var rows []models.DomainEvent
	err := s.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("version ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stream")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stream not found")
	}
	if rows[0].TenantID != tenantID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stream not found")
	}

	return s.decodeRows(rows)
}

// LoadTx is Load inside an open transaction, used by command handlers that
// rehydrate and append in one unit of work.
func (s *Store) LoadTx(ctx context.Context, tx *gorm.DB, streamID uuid.UUID, tenantID uuid.UUID) ([]Event, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if streamID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stream id is required")
	}
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}

	var rows []models.DomainEvent
	err := tx.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("version ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stream")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stream not found")
	}
	if rows[0].TenantID != tenantID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stream not found")
	}

	return s.decodeRows(rows)
}

func (s *Store) decodeRows(rows []models.DomainEvent) ([]Event, error) {
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		payload, err := s.decoders.Decode(row.EventType, row.SchemaVersion, json.RawMessage(row.Payload))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding event payload")
		}
		events = append(events, Event{
			ID:            row.ID,
			StreamID:      row.StreamID,
			AggregateType: row.AggregateType,
			TenantID:      row.TenantID,
			Version:       row.Version,
			Type:          row.EventType,
			SchemaVersion: row.SchemaVersion,
			Payload:       payload,
			ActorID:       row.ActorID,
			CorrelationID: row.CorrelationID,
			OccurredAt:    row.OccurredAt,
			RecordedAt:    row.RecordedAt,
		})
	}
	return events, nil
}
