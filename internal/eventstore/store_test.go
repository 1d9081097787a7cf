package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/payloads"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:eventstore_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.DomainEvent{}); err != nil {
		t.Fatalf("migrate domain_events: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, db *gorm.DB) *Store {
	t.Helper()
	store, err := NewStore(db, DefaultDecoders(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func submittedEvent(requestID, tenantID uuid.UUID) PendingEvent {
	return PendingEvent{
		Type: enums.EventRequestSubmitted,
		Payload: payloads.RequestSubmittedEvent{
			RequestID:     requestID,
			TenantID:      tenantID,
			RequesterID:   uuid.New(),
			RequesterName: "Dana Feld",
			ProjectName:   "atlas",
			VMName:        "atlas-build-01",
			Size:          enums.VMSizeSmall,
			Justification: "CI build agents",
		},
		ActorID:       uuid.New(),
		CorrelationID: uuid.New(),
	}
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	requestID := uuid.New()
	tenantID := uuid.New()
	stream := StreamRef{StreamID: requestID, AggregateType: enums.AggregateRequest, TenantID: tenantID}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := store.Append(ctx, tx, stream, NewStream, []PendingEvent{submittedEvent(requestID, tenantID)})
		return err
	})
	if err != nil {
		t.Fatalf("append submitted: %v", err)
	}

	approverID := uuid.New()
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := store.Append(ctx, tx, stream, 1, []PendingEvent{{
			Type: enums.EventRequestApproved,
			Payload: payloads.RequestApprovedEvent{
				RequestID:  requestID,
				TenantID:   tenantID,
				ApproverID: approverID,
			},
			ActorID:       approverID,
			CorrelationID: uuid.New(),
		}})
		return err
	})
	if err != nil {
		t.Fatalf("append approved: %v", err)
	}

	events, err := store.Load(ctx, requestID, tenantID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Version != 1 || events[1].Version != 2 {
		t.Fatalf("unexpected versions: %d, %d", events[0].Version, events[1].Version)
	}

	submitted, ok := events[0].Payload.(*payloads.RequestSubmittedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if submitted.VMName != "atlas-build-01" || submitted.Size != enums.VMSizeSmall {
		t.Fatalf("payload mismatch: %+v", submitted)
	}

	approved, ok := events[1].Payload.(*payloads.RequestApprovedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[1].Payload)
	}
	if approved.ApproverID != approverID {
		t.Fatalf("approver mismatch: %+v", approved)
	}
}

func TestAppendVersionConflict(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	requestID := uuid.New()
	tenantID := uuid.New()
	stream := StreamRef{StreamID: requestID, AggregateType: enums.AggregateRequest, TenantID: tenantID}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := store.Append(ctx, tx, stream, NewStream, []PendingEvent{submittedEvent(requestID, tenantID)})
		return err
	})
	if err != nil {
		t.Fatalf("append submitted: %v", err)
	}

	// Two deciders both observed version 1. The first append wins.
	approve := func(approver uuid.UUID) error {
		return db.Transaction(func(tx *gorm.DB) error {
			_, err := store.Append(ctx, tx, stream, 1, []PendingEvent{{
				Type: enums.EventRequestApproved,
				Payload: payloads.RequestApprovedEvent{
					RequestID:  requestID,
					TenantID:   tenantID,
					ApproverID: approver,
				},
				ActorID:       approver,
				CorrelationID: uuid.New(),
			}})
			return err
		})
	}

	if err := approve(uuid.New()); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	err = approve(uuid.New())
	if err == nil {
		t.Fatalf("expected conflict on stale expected version")
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected CodeConflict, got %v", err)
	}

	// The losing transaction must not leave partial rows.
	events, err := store.Load(ctx, requestID, tenantID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after conflict, got %d", len(events))
	}
}

func TestAppendAssignsSequentialVersions(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	resourceID := uuid.New()
	requestID := uuid.New()
	tenantID := uuid.New()
	stream := StreamRef{StreamID: resourceID, AggregateType: enums.AggregateResource, TenantID: tenantID}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := store.Append(ctx, tx, stream, NewStream, []PendingEvent{
			{
				Type: enums.EventResourceCreated,
				Payload: payloads.ResourceCreatedEvent{
					ResourceID: resourceID,
					RequestID:  requestID,
					TenantID:   tenantID,
					VMName:     "atlas-build-01",
					Size:       enums.VMSizeSmall,
				},
				ActorID:       uuid.New(),
				CorrelationID: uuid.New(),
			},
			{
				Type: enums.EventProvisioningProgressed,
				Payload: payloads.ProvisioningProgressedEvent{
					ResourceID: resourceID,
					RequestID:  requestID,
					TenantID:   tenantID,
					Stage:      enums.ProgressStageCloning,
				},
				ActorID:       uuid.New(),
				CorrelationID: uuid.New(),
			},
		})
		return err
	})
	if err != nil {
		t.Fatalf("append batch: %v", err)
	}

	events, err := store.Load(ctx, resourceID, tenantID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 || events[0].Version != 1 || events[1].Version != 2 {
		t.Fatalf("expected versions 1,2 got %+v", events)
	}
}

func TestLoadUnknownStream(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)

	_, err := store.Load(context.Background(), uuid.New(), uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected CodeNotFound, got %v", err)
	}
}

func TestLoadWrongTenantReadsAsNotFound(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	requestID := uuid.New()
	tenantID := uuid.New()
	stream := StreamRef{StreamID: requestID, AggregateType: enums.AggregateRequest, TenantID: tenantID}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := store.Append(ctx, tx, stream, NewStream, []PendingEvent{submittedEvent(requestID, tenantID)})
		return err
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err = store.Load(ctx, requestID, uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected CodeNotFound for foreign tenant, got %v", err)
	}
}

func TestAppendValidation(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	ctx := context.Background()
	tenantID := uuid.New()

	cases := []struct {
		name    string
		stream  StreamRef
		version int64
		events  []PendingEvent
	}{
		{
			name:    "missing stream id",
			stream:  StreamRef{AggregateType: enums.AggregateRequest, TenantID: tenantID},
			version: NewStream,
			events:  []PendingEvent{submittedEvent(uuid.New(), tenantID)},
		},
		{
			name:    "missing tenant",
			stream:  StreamRef{StreamID: uuid.New(), AggregateType: enums.AggregateRequest},
			version: NewStream,
			events:  []PendingEvent{submittedEvent(uuid.New(), tenantID)},
		},
		{
			name:    "negative expected version",
			stream:  StreamRef{StreamID: uuid.New(), AggregateType: enums.AggregateRequest, TenantID: tenantID},
			version: -1,
			events:  []PendingEvent{submittedEvent(uuid.New(), tenantID)},
		},
		{
			name:    "invalid event type",
			stream:  StreamRef{StreamID: uuid.New(), AggregateType: enums.AggregateRequest, TenantID: tenantID},
			version: NewStream,
			events:  []PendingEvent{{Type: enums.EventType("bogus")}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := db.Transaction(func(tx *gorm.DB) error {
				_, err := store.Append(ctx, tx, tc.stream, tc.version, tc.events)
				return err
			})
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected CodeValidation, got %v", err)
			}
		})
	}
}

func TestEventTimestampsDefaulted(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	requestID := uuid.New()
	tenantID := uuid.New()
	stream := StreamRef{StreamID: requestID, AggregateType: enums.AggregateRequest, TenantID: tenantID}

	before := time.Now().UTC().Add(-time.Second)
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := store.Append(ctx, tx, stream, NewStream, []PendingEvent{submittedEvent(requestID, tenantID)})
		return err
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := store.Load(ctx, requestID, tenantID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if events[0].OccurredAt.Before(before) {
		t.Fatalf("occurred_at not defaulted: %v", events[0].OccurredAt)
	}
}
