package resource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dcmlabs/dvmm-backend/internal/eventstore"
	dbpkg "github.com/dcmlabs/dvmm-backend/pkg/db"
	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/payloads"
)

type eventStore interface {
	Append(ctx context.Context, tx *gorm.DB, stream eventstore.StreamRef, expectedVersion int64, events []eventstore.PendingEvent) ([]models.DomainEvent, error)
	LoadTx(ctx context.Context, tx *gorm.DB, streamID uuid.UUID, tenantID uuid.UUID) ([]eventstore.Event, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type resourceRepository interface {
	InsertProjectionTx(tx *gorm.DB, projection models.ResourceProjection) error
	UpdateProjectionTx(tx *gorm.DB, projection models.ResourceProjection) error
	UpsertProgressTx(tx *gorm.DB, progress models.ProvisioningProgress) error
	DeleteProgressTx(tx *gorm.DB, resourceID uuid.UUID) error
	FindByID(ctx context.Context, tenantID, resourceID uuid.UUID) (*models.ResourceProjection, error)
	FindByRequestID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.ResourceProjection, error)
	FindProgress(ctx context.Context, tenantID, resourceID uuid.UUID) (*models.ProvisioningProgress, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Actor is the caller identity attached to every command. Resource commands
// are issued by the provisioning worker under a system identity.
type Actor struct {
	UserID        uuid.UUID
	TenantID      uuid.UUID
	Role          string
	CorrelationID uuid.UUID
}

func (a Actor) ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.UserID, TenantID: a.TenantID, Role: a.Role}
}

// CreateInput binds a new resource stream to its originating request.
type CreateInput struct {
	RequestID uuid.UUID
	VMName    string
	Size      enums.VMSize
}

// Service exposes the resource command handlers and read-side queries.
type Service interface {
	Create(ctx context.Context, actor Actor, input CreateInput) (*models.ResourceProjection, error)
	RecordProgress(ctx context.Context, actor Actor, resourceID uuid.UUID, stage enums.ProgressStage) error
	MarkProvisioned(ctx context.Context, actor Actor, resourceID uuid.UUID, externalRef string, address *string, addressPending bool) error
	MarkProvisioningFailed(ctx context.Context, actor Actor, resourceID uuid.UUID, reason string) error
	GetByRequestID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.ResourceProjection, error)
	GetProgress(ctx context.Context, tenantID, resourceID uuid.UUID) (*models.ProvisioningProgress, error)
}

type service struct {
	tx     txRunner
	store  eventStore
	repo   resourceRepository
	outbox outboxEmitter
	logg   *logger.Logger
}

// NewService builds a resource service backed by the event store and read models.
func NewService(tx txRunner, store eventStore, repo resourceRepository, emitter outboxEmitter, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	if repo == nil {
		return nil, fmt.Errorf("resource repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		tx:     tx,
		store:  store,
		repo:   repo,
		outbox: emitter,
		logg:   logg,
	}, nil
}

// Create opens a resource stream for an approved request. A second create for
// the same request loses on the request_id unique index and reads as conflict.
func (s *service) Create(ctx context.Context, actor Actor, input CreateInput) (*models.ResourceProjection, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if input.RequestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id is required")
	}
	if strings.TrimSpace(input.VMName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vm name is required")
	}
	if !input.Size.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid vm size")
	}

	resourceID := uuid.New()
	now := time.Now().UTC()
	payload := payloads.ResourceCreatedEvent{
		ResourceID: resourceID,
		RequestID:  input.RequestID,
		TenantID:   actor.TenantID,
		VMName:     strings.TrimSpace(input.VMName),
		Size:       input.Size,
	}
	projection := models.ResourceProjection{
		ResourceID: resourceID,
		RequestID:  input.RequestID,
		TenantID:   actor.TenantID,
		Status:     enums.ResourceStatusProvisioning,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.InsertProjectionTx(tx, projection); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_resource_projections_request") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "resource already exists for request")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating resource projection")
		}
		rows, err := s.store.Append(ctx, tx, eventstore.StreamRef{
			StreamID:      resourceID,
			AggregateType: enums.AggregateResource,
			TenantID:      actor.TenantID,
		}, eventstore.NewStream, []eventstore.PendingEvent{{
			Type:          enums.EventResourceCreated,
			Payload:       payload,
			ActorID:       actor.UserID,
			CorrelationID: actor.CorrelationID,
			OccurredAt:    now,
		}})
		if err != nil {
			return err
		}
		return s.emit(ctx, tx, rows[0], actor, payload)
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"resource_id": resourceID.String(),
			"request_id":  input.RequestID.String(),
		})
		s.logg.Info(logCtx, "resource created")
	}
	return &projection, nil
}

// RecordProgress appends a stage transition in its own small transaction so a
// long provisioning run never holds locks. Replayed stages are dropped.
func (s *service) RecordProgress(ctx context.Context, actor Actor, resourceID uuid.UUID, stage enums.ProgressStage) error {
	if err := validateActor(actor); err != nil {
		return err
	}
	if resourceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "resource id is required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.store.LoadTx(ctx, tx, resourceID, actor.TenantID)
		if err != nil {
			return err
		}
		agg, err := Replay(events)
		if err != nil {
			return err
		}
		advance, err := agg.guardProgress(stage)
		if err != nil {
			return err
		}
		if !advance {
			return nil
		}

		payload := payloads.ProvisioningProgressedEvent{
			ResourceID: resourceID,
			RequestID:  agg.RequestID,
			TenantID:   actor.TenantID,
			Stage:      stage,
		}
		rows, err := s.store.Append(ctx, tx, eventstore.StreamRef{
			StreamID:      resourceID,
			AggregateType: enums.AggregateResource,
			TenantID:      actor.TenantID,
		}, agg.Version, []eventstore.PendingEvent{{
			Type:          enums.EventProvisioningProgressed,
			Payload:       payload,
			ActorID:       actor.UserID,
			CorrelationID: actor.CorrelationID,
		}})
		if err != nil {
			return err
		}

		if err := s.repo.UpsertProgressTx(tx, models.ProvisioningProgress{
			ResourceID: resourceID,
			RequestID:  agg.RequestID,
			TenantID:   actor.TenantID,
			Stage:      stage,
			UpdatedAt:  rows[0].OccurredAt,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating progress row")
		}
		return s.emit(ctx, tx, rows[0], actor, payload)
	})
}

// MarkProvisioned closes a run as RUNNING and clears the progress row.
func (s *service) MarkProvisioned(ctx context.Context, actor Actor, resourceID uuid.UUID, externalRef string, address *string, addressPending bool) error {
	if err := validateActor(actor); err != nil {
		return err
	}
	if resourceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "resource id is required")
	}
	if strings.TrimSpace(externalRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external ref is required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.store.LoadTx(ctx, tx, resourceID, actor.TenantID)
		if err != nil {
			return err
		}
		agg, err := Replay(events)
		if err != nil {
			return err
		}
		if err := agg.guardComplete(); err != nil {
			return err
		}

		payload := payloads.ResourceProvisionedEvent{
			ResourceID:     resourceID,
			RequestID:      agg.RequestID,
			TenantID:       actor.TenantID,
			ExternalRef:    strings.TrimSpace(externalRef),
			Address:        address,
			AddressPending: addressPending,
		}
		rows, err := s.store.Append(ctx, tx, eventstore.StreamRef{
			StreamID:      resourceID,
			AggregateType: enums.AggregateResource,
			TenantID:      actor.TenantID,
		}, agg.Version, []eventstore.PendingEvent{{
			Type:          enums.EventResourceProvisioned,
			Payload:       payload,
			ActorID:       actor.UserID,
			CorrelationID: actor.CorrelationID,
		}})
		if err != nil {
			return err
		}

		ref := payload.ExternalRef
		if err := s.repo.UpdateProjectionTx(tx, models.ResourceProjection{
			ResourceID:     resourceID,
			Status:         enums.ResourceStatusRunning,
			ExternalRef:    &ref,
			Address:        address,
			AddressPending: addressPending,
			Version:        rows[0].Version,
			UpdatedAt:      rows[0].OccurredAt,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating resource projection")
		}
		if err := s.repo.DeleteProgressTx(tx, resourceID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing progress row")
		}
		return s.emit(ctx, tx, rows[0], actor, payload)
	})
}

// MarkProvisioningFailed closes a run as FAILED and clears the progress row.
func (s *service) MarkProvisioningFailed(ctx context.Context, actor Actor, resourceID uuid.UUID, reason string) error {
	if err := validateActor(actor); err != nil {
		return err
	}
	if resourceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "resource id is required")
	}
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "failure reason is required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.store.LoadTx(ctx, tx, resourceID, actor.TenantID)
		if err != nil {
			return err
		}
		agg, err := Replay(events)
		if err != nil {
			return err
		}
		if err := agg.guardComplete(); err != nil {
			return err
		}

		payload := payloads.ResourceProvisioningFailedEvent{
			ResourceID: resourceID,
			RequestID:  agg.RequestID,
			TenantID:   actor.TenantID,
			Reason:     trimmed,
		}
		rows, err := s.store.Append(ctx, tx, eventstore.StreamRef{
			StreamID:      resourceID,
			AggregateType: enums.AggregateResource,
			TenantID:      actor.TenantID,
		}, agg.Version, []eventstore.PendingEvent{{
			Type:          enums.EventResourceProvisioningFailed,
			Payload:       payload,
			ActorID:       actor.UserID,
			CorrelationID: actor.CorrelationID,
		}})
		if err != nil {
			return err
		}

		if err := s.repo.UpdateProjectionTx(tx, models.ResourceProjection{
			ResourceID:    resourceID,
			Status:        enums.ResourceStatusFailed,
			FailureReason: &trimmed,
			Version:       rows[0].Version,
			UpdatedAt:     rows[0].OccurredAt,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating resource projection")
		}
		if err := s.repo.DeleteProgressTx(tx, resourceID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing progress row")
		}
		return s.emit(ctx, tx, rows[0], actor, payload)
	})
}

func (s *service) GetByRequestID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.ResourceProjection, error) {
	if tenantID == uuid.Nil || requestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and request id are required")
	}
	row, err := s.repo.FindByRequestID(ctx, tenantID, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading resource")
	}
	return row, nil
}

func (s *service) GetProgress(ctx context.Context, tenantID, resourceID uuid.UUID) (*models.ProvisioningProgress, error) {
	if tenantID == uuid.Nil || resourceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and resource id are required")
	}
	row, err := s.repo.FindProgress(ctx, tenantID, resourceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading progress")
	}
	return row, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, row models.DomainEvent, actor Actor, payload interface{}) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: enums.AggregateResource,
		AggregateID:   row.StreamID,
		TenantID:      actor.TenantID,
		CorrelationID: actor.CorrelationID,
		Actor:         actor.ref(),
		Data:          payload,
		Version:       row.SchemaVersion,
		OccurredAt:    row.OccurredAt,
	})
}

func validateActor(actor Actor) error {
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor identity missing")
	}
	if actor.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant identity missing")
	}
	return nil
}
