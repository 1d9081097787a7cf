package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dcmlabs/dvmm-backend/internal/eventstore"
	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/payloads"
	"github.com/dcmlabs/dvmm-backend/pkg/pagination"
)

const maxJustificationLen = 2000

// vmNamePattern follows RFC 1123 hostname labels, 3 to 63 characters.
var vmNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61}[a-z0-9])$`)

type eventStore interface {
	Append(ctx context.Context, tx *gorm.DB, stream eventstore.StreamRef, expectedVersion int64, events []eventstore.PendingEvent) ([]models.DomainEvent, error)
	LoadTx(ctx context.Context, tx *gorm.DB, streamID uuid.UUID, tenantID uuid.UUID) ([]eventstore.Event, error)
	Load(ctx context.Context, streamID uuid.UUID, tenantID uuid.UUID) ([]eventstore.Event, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type requestRepository interface {
	UpsertProjectionTx(tx *gorm.DB, projection models.RequestProjection) error
	InsertTimelineTx(tx *gorm.DB, entry models.TimelineEntry) error
	FindByID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.RequestProjection, error)
	List(ctx context.Context, opts listQuery) ([]models.RequestProjection, error)
	Timeline(ctx context.Context, tenantID, requestID uuid.UUID) ([]models.TimelineEntry, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Actor is the caller identity attached to every command.
type Actor struct {
	UserID        uuid.UUID
	TenantID      uuid.UUID
	Role          string
	CorrelationID uuid.UUID
}

func (a Actor) ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.UserID, TenantID: a.TenantID, Role: a.Role}
}

// SubmitInput holds the fields required to open a request.
type SubmitInput struct {
	RequesterName string
	ProjectName   string
	VMName        string
	Size          enums.VMSize
	Justification string
}

// ListParams filters the tenant's request list.
type ListParams struct {
	TenantID   uuid.UUID
	Status     *enums.RequestStatus
	Pagination pagination.Params
}

// ListResult is one page of requests plus the cursor for the next page.
type ListResult struct {
	Requests   []models.RequestProjection
	NextCursor string
}

// Service exposes the request command handlers and read-side queries.
type Service interface {
	Submit(ctx context.Context, actor Actor, input SubmitInput) (*models.RequestProjection, error)
	Approve(ctx context.Context, actor Actor, requestID uuid.UUID, reason string) (*models.RequestProjection, error)
	Reject(ctx context.Context, actor Actor, requestID uuid.UUID, reason string) (*models.RequestProjection, error)
	Cancel(ctx context.Context, actor Actor, requestID uuid.UUID) (*models.RequestProjection, error)
	StartProvisioning(ctx context.Context, actor Actor, requestID uuid.UUID) (*payloads.ProvisioningStartedEvent, error)
	MarkReady(ctx context.Context, actor Actor, requestID, resourceID uuid.UUID, address *string, degraded bool) error
	MarkFailed(ctx context.Context, actor Actor, requestID, resourceID uuid.UUID, reason string) error
	ListRequests(ctx context.Context, params ListParams) (*ListResult, error)
	GetRequest(ctx context.Context, tenantID, requestID uuid.UUID) (*models.RequestProjection, error)
	GetTimeline(ctx context.Context, tenantID, requestID uuid.UUID) ([]models.TimelineEntry, error)
}

type service struct {
	tx     txRunner
	store  eventStore
	repo   requestRepository
	outbox outboxEmitter
	logg   *logger.Logger
}

// NewService builds a request service backed by the event store and read models.
func NewService(tx txRunner, store eventStore, repo requestRepository, emitter outboxEmitter, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	if repo == nil {
		return nil, fmt.Errorf("request repository required")
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

func (s *service) Submit(ctx context.Context, actor Actor, input SubmitInput) (*models.RequestProjection, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if err := validateSubmitInput(input); err != nil {
		return nil, err
	}

	requestID := uuid.New()
	now := time.Now().UTC()
	payload := payloads.RequestSubmittedEvent{
		RequestID:     requestID,
		TenantID:      actor.TenantID,
		RequesterID:   actor.UserID,
		RequesterName: strings.TrimSpace(input.RequesterName),
		ProjectName:   strings.TrimSpace(input.ProjectName),
		VMName:        strings.TrimSpace(input.VMName),
		Size:          input.Size,
		Justification: strings.TrimSpace(input.Justification),
	}

	projection := models.RequestProjection{
		RequestID:     requestID,
		TenantID:      actor.TenantID,
		RequesterID:   actor.UserID,
		RequesterName: payload.RequesterName,
		ProjectName:   payload.ProjectName,
		VMName:        payload.VMName,
		Size:          payload.Size,
		Status:        enums.RequestStatusPending,
		Justification: payload.Justification,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.store.Append(ctx, tx, eventstore.StreamRef{
			StreamID:      requestID,
			AggregateType: enums.AggregateRequest,
			TenantID:      actor.TenantID,
		}, eventstore.NewStream, []eventstore.PendingEvent{{
			Type:          enums.EventRequestSubmitted,
			Payload:       payload,
			ActorID:       actor.UserID,
			CorrelationID: actor.CorrelationID,
			OccurredAt:    now,
		}})
		if err != nil {
			return err
		}
		if err := s.repo.UpsertProjectionTx(tx, projection); err != nil {
			return err
		}
		if err := s.insertTimeline(tx, rows[0], actor.TenantID); err != nil {
			return err
		}
		return s.emit(ctx, tx, rows[0], actor, payload)
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"request_id": requestID.String()})
		s.logg.Info(logCtx, "request submitted")
	}
	return &projection, nil
}

func (s *service) Approve(ctx context.Context, actor Actor, requestID uuid.UUID, reason string) (*models.RequestProjection, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	payload := payloads.RequestApprovedEvent{
		RequestID:  requestID,
		TenantID:   actor.TenantID,
		ApproverID: actor.UserID,
		Reason:     strings.TrimSpace(reason),
	}

	return s.decide(ctx, actor, requestID, enums.EventRequestApproved, payload, func(agg *Aggregate) error {
		return agg.guardApprove(actor.UserID)
	})
}

func (s *service) Reject(ctx context.Context, actor Actor, requestID uuid.UUID, reason string) (*models.RequestProjection, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(reason)
	payload := payloads.RequestRejectedEvent{
		RequestID:  requestID,
		TenantID:   actor.TenantID,
		ApproverID: actor.UserID,
		Reason:     trimmed,
	}

	return s.decide(ctx, actor, requestID, enums.EventRequestRejected, payload, func(agg *Aggregate) error {
		return agg.guardReject(actor.UserID, trimmed)
	})
}

func (s *service) Cancel(ctx context.Context, actor Actor, requestID uuid.UUID) (*models.RequestProjection, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	payload := payloads.RequestCancelledEvent{
		RequestID:   requestID,
		TenantID:    actor.TenantID,
		CancelledBy: actor.UserID,
	}

	return s.decide(ctx, actor, requestID, enums.EventRequestCancelled, payload, func(agg *Aggregate) error {
		return agg.guardCancel(actor.UserID)
	})
}

// decide runs the shared rehydrate/guard/append/project cycle for the three
// decision commands.
func (s *service) decide(ctx context.Context, actor Actor, requestID uuid.UUID, eventType enums.EventType, payload interface{}, guard func(*Aggregate) error) (*models.RequestProjection, error) {
	if requestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id is required")
	}

	var projection models.RequestProjection
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.store.LoadTx(ctx, tx, requestID, actor.TenantID)
		if err != nil {
			return err
		}
		agg, err := Replay(events)
		if err != nil {
			return err
		}
		if err := guard(agg); err != nil {
			if errors.Is(err, errCancelNoop) {
				projection = projectionFrom(agg, events[0].OccurredAt, events[len(events)-1].OccurredAt)
				return nil
			}
			return err
		}

		rows, err := s.store.Append(ctx, tx, eventstore.StreamRef{
			StreamID:      requestID,
			AggregateType: enums.AggregateRequest,
			TenantID:      actor.TenantID,
		}, agg.Version, []eventstore.PendingEvent{{
			Type:          eventType,
			Payload:       payload,
			ActorID:       actor.UserID,
			CorrelationID: actor.CorrelationID,
		}})
		if err != nil {
			return err
		}

		if err := agg.apply(toStoreEvent(rows[0], payload)); err != nil {
			return err
		}
		projection = projectionFrom(agg, events[0].OccurredAt, rows[0].OccurredAt)
		if err := s.repo.UpsertProjectionTx(tx, projection); err != nil {
			return err
		}
		if err := s.insertTimeline(tx, rows[0], actor.TenantID); err != nil {
			return err
		}
		return s.emit(ctx, tx, rows[0], actor, payload)
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"request_id": requestID.String(),
			"event_type": string(eventType),
		})
		s.logg.Info(logCtx, "request decision recorded")
	}
	return &projection, nil
}

func (s *service) StartProvisioning(ctx context.Context, actor Actor, requestID uuid.UUID) (*payloads.ProvisioningStartedEvent, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if requestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id is required")
	}

	var payload payloads.ProvisioningStartedEvent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.store.LoadTx(ctx, tx, requestID, actor.TenantID)
		if err != nil {
			return err
		}
		agg, err := Replay(events)
		if err != nil {
			return err
		}
		if err := agg.guardStartProvisioning(); err != nil {
			return err
		}

		payload = payloads.ProvisioningStartedEvent{
			RequestID:   requestID,
			TenantID:    actor.TenantID,
			ProjectName: agg.ProjectName,
			VMName:      agg.VMName,
			Size:        agg.Size,
		}

		rows, err := s.store.Append(ctx, tx, eventstore.StreamRef{
			StreamID:      requestID,
			AggregateType: enums.AggregateRequest,
			TenantID:      actor.TenantID,
		}, agg.Version, []eventstore.PendingEvent{{
			Type:          enums.EventProvisioningStarted,
			Payload:       payload,
			ActorID:       actor.UserID,
			CorrelationID: actor.CorrelationID,
		}})
		if err != nil {
			return err
		}

		if err := agg.apply(toStoreEvent(rows[0], payload)); err != nil {
			return err
		}
		if err := s.repo.UpsertProjectionTx(tx, projectionFrom(agg, events[0].OccurredAt, rows[0].OccurredAt)); err != nil {
			return err
		}
		if err := s.insertTimeline(tx, rows[0], actor.TenantID); err != nil {
			return err
		}
		return s.emit(ctx, tx, rows[0], actor, payload)
	})
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

func (s *service) MarkReady(ctx context.Context, actor Actor, requestID, resourceID uuid.UUID, address *string, degraded bool) error {
	if err := validateActor(actor); err != nil {
		return err
	}
	if requestID == uuid.Nil || resourceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "request id and resource id are required")
	}

	payload := payloads.RequestReadyEvent{
		RequestID:  requestID,
		TenantID:   actor.TenantID,
		ResourceID: resourceID,
		Address:    address,
		Degraded:   degraded,
	}
	return s.complete(ctx, actor, requestID, enums.EventRequestReady, payload)
}

func (s *service) MarkFailed(ctx context.Context, actor Actor, requestID, resourceID uuid.UUID, reason string) error {
	if err := validateActor(actor); err != nil {
		return err
	}
	if requestID == uuid.Nil || resourceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "request id and resource id are required")
	}
	if strings.TrimSpace(reason) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "failure reason is required")
	}

	payload := payloads.RequestFailedEvent{
		RequestID:  requestID,
		TenantID:   actor.TenantID,
		ResourceID: resourceID,
		Reason:     strings.TrimSpace(reason),
	}
	return s.complete(ctx, actor, requestID, enums.EventRequestFailed, payload)
}

func (s *service) complete(ctx context.Context, actor Actor, requestID uuid.UUID, eventType enums.EventType, payload interface{}) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.store.LoadTx(ctx, tx, requestID, actor.TenantID)
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

		rows, err := s.store.Append(ctx, tx, eventstore.StreamRef{
			StreamID:      requestID,
			AggregateType: enums.AggregateRequest,
			TenantID:      actor.TenantID,
		}, agg.Version, []eventstore.PendingEvent{{
			Type:          eventType,
			Payload:       payload,
			ActorID:       actor.UserID,
			CorrelationID: actor.CorrelationID,
		}})
		if err != nil {
			return err
		}

		if err := agg.apply(toStoreEvent(rows[0], payload)); err != nil {
			return err
		}
		if err := s.repo.UpsertProjectionTx(tx, projectionFrom(agg, events[0].OccurredAt, rows[0].OccurredAt)); err != nil {
			return err
		}
		if err := s.insertTimeline(tx, rows[0], actor.TenantID); err != nil {
			return err
		}
		return s.emit(ctx, tx, rows[0], actor, payload)
	})
}

func (s *service) ListRequests(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}

	cursor, err := pagination.ParseCursor(params.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Pagination.Limit)
	rows, err := s.repo.List(ctx, listQuery{
		tenantID: params.TenantID,
		status:   params.Status,
		cursor:   cursor,
		limit:    limit + 1,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing requests")
	}

	result := &ListResult{Requests: rows}
	if len(rows) > limit {
		result.Requests = rows[:limit]
		last := result.Requests[limit-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.RequestID,
		})
	}
	return result, nil
}

func (s *service) GetRequest(ctx context.Context, tenantID, requestID uuid.UUID) (*models.RequestProjection, error) {
	if tenantID == uuid.Nil || requestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and request id are required")
	}
	row, err := s.repo.FindByID(ctx, tenantID, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading request")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
	}
	return row, nil
}

func (s *service) GetTimeline(ctx context.Context, tenantID, requestID uuid.UUID) ([]models.TimelineEntry, error) {
	if _, err := s.GetRequest(ctx, tenantID, requestID); err != nil {
		return nil, err
	}
	entries, err := s.repo.Timeline(ctx, tenantID, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading timeline")
	}
	return entries, nil
}

func (s *service) insertTimeline(tx *gorm.DB, row models.DomainEvent, tenantID uuid.UUID) error {
	return s.repo.InsertTimelineTx(tx, models.TimelineEntry{
		ID:         uuid.New(),
		EventID:    row.ID,
		RequestID:  row.StreamID,
		TenantID:   tenantID,
		EventType:  row.EventType,
		ActorID:    row.ActorID,
		Detail:     json.RawMessage(row.Payload),
		OccurredAt: row.OccurredAt,
	})
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, row models.DomainEvent, actor Actor, payload interface{}) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: enums.AggregateRequest,
		AggregateID:   row.StreamID,
		TenantID:      actor.TenantID,
		CorrelationID: actor.CorrelationID,
		Actor:         actor.ref(),
		Data:          payload,
		Version:       row.SchemaVersion,
		OccurredAt:    row.OccurredAt,
	})
}

// toStoreEvent lets the handler advance the in-memory aggregate with the row
// it just appended, without a reload.
func toStoreEvent(row models.DomainEvent, payload interface{}) eventstore.Event {
	return eventstore.Event{
		ID:            row.ID,
		StreamID:      row.StreamID,
		AggregateType: row.AggregateType,
		TenantID:      row.TenantID,
		Version:       row.Version,
		Type:          row.EventType,
		SchemaVersion: row.SchemaVersion,
		Payload:       toPointer(payload),
		ActorID:       row.ActorID,
		CorrelationID: row.CorrelationID,
		OccurredAt:    row.OccurredAt,
	}
}

// toPointer normalizes payload values to the pointer form apply expects.
func toPointer(payload interface{}) interface{} {
	switch p := payload.(type) {
	case payloads.RequestSubmittedEvent:
		return &p
	case payloads.RequestApprovedEvent:
		return &p
	case payloads.RequestRejectedEvent:
		return &p
	case payloads.RequestCancelledEvent:
		return &p
	case payloads.ProvisioningStartedEvent:
		return &p
	case payloads.RequestReadyEvent:
		return &p
	case payloads.RequestFailedEvent:
		return &p
	default:
		return payload
	}
}

// projectionFrom rebuilds the read-model row. createdAt is the submission
// event's timestamp so the upsert never zeroes the original creation time.
func projectionFrom(agg *Aggregate, createdAt, updatedAt time.Time) models.RequestProjection {
	return models.RequestProjection{
		RequestID:      agg.ID,
		TenantID:       agg.TenantID,
		RequesterID:    agg.RequesterID,
		RequesterName:  agg.RequesterName,
		ProjectName:    agg.ProjectName,
		VMName:         agg.VMName,
		Size:           agg.Size,
		Status:         agg.Status,
		Justification:  agg.Justification,
		DecidedBy:      agg.DecidedBy,
		DecisionReason: agg.DecisionReason,
		Degraded:       agg.Degraded,
		Version:        agg.Version,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
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

func validateSubmitInput(input SubmitInput) error {
	if strings.TrimSpace(input.RequesterName) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "requester name is required")
	}
	if strings.TrimSpace(input.ProjectName) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "project name is required")
	}
	if name := strings.TrimSpace(input.VMName); !vmNamePattern.MatchString(name) {
		return pkgerrors.New(pkgerrors.CodeValidation,
			"vm name must be a hostname of 3 to 63 lowercase letters, digits, or hyphens")
	}
	if !input.Size.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid vm size")
	}
	justification := strings.TrimSpace(input.Justification)
	if justification == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "justification is required")
	}
	if len(justification) > maxJustificationLen {
		return pkgerrors.New(pkgerrors.CodeValidation, "justification too long")
	}
	return nil
}
