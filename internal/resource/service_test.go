package resource

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dcmlabs/dvmm-backend/internal/eventstore"
	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type testHarness struct {
	db      *gorm.DB
	service Service
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dsn := "file:resource_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.DomainEvent{},
		&models.OutboxEvent{},
		&models.ResourceProjection{},
		&models.ProvisioningProgress{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store, err := eventstore.NewStore(db, eventstore.DefaultDecoders(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc, err := NewService(gormTxRunner{db: db}, store, NewRepository(db), outbox.NewService(outbox.NewRepository(db), nil), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testHarness{db: db, service: svc}
}

func systemActor(tenantID uuid.UUID) Actor {
	return Actor{UserID: uuid.New(), TenantID: tenantID, Role: "system", CorrelationID: uuid.New()}
}

func (h *testHarness) create(t *testing.T, actor Actor, requestID uuid.UUID) *models.ResourceProjection {
	t.Helper()
	projection, err := h.service.Create(context.Background(), actor, CreateInput{
		RequestID: requestID,
		VMName:    "atlas-build-01",
		Size:      enums.VMSizeSmall,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return projection
}

func TestCreateOpensProvisioningResource(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	actor := systemActor(tenantID)

	projection := h.create(t, actor, uuid.New())

	if projection.Status != enums.ResourceStatusProvisioning {
		t.Fatalf("expected PROVISIONING, got %s", projection.Status)
	}
	if projection.Version != 1 {
		t.Fatalf("expected version 1, got %d", projection.Version)
	}

	var eventCount, outboxCount int64
	h.db.Model(&models.DomainEvent{}).Count(&eventCount)
	h.db.Model(&models.OutboxEvent{}).Count(&outboxCount)
	if eventCount != 1 || outboxCount != 1 {
		t.Fatalf("expected 1 event and 1 outbox row, got %d and %d", eventCount, outboxCount)
	}
}

func TestCreateDuplicateRequestConflicts(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	actor := systemActor(tenantID)
	requestID := uuid.New()

	h.create(t, actor, requestID)

	_, err := h.service.Create(context.Background(), actor, CreateInput{
		RequestID: requestID,
		VMName:    "atlas-build-01",
		Size:      enums.VMSizeSmall,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected CodeConflict for duplicate request, got %v", err)
	}

	// The losing create must not leave a second stream behind.
	var streams int64
	h.db.Model(&models.DomainEvent{}).Where("event_type = ?", enums.EventResourceCreated).Count(&streams)
	if streams != 1 {
		t.Fatalf("expected 1 creation event, got %d", streams)
	}
}

func TestRecordProgressAdvancesStage(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	actor := systemActor(tenantID)
	projection := h.create(t, actor, uuid.New())
	ctx := context.Background()

	if err := h.service.RecordProgress(ctx, actor, projection.ResourceID, enums.ProgressStageCloning); err != nil {
		t.Fatalf("record cloning: %v", err)
	}
	if err := h.service.RecordProgress(ctx, actor, projection.ResourceID, enums.ProgressStageConfiguring); err != nil {
		t.Fatalf("record configuring: %v", err)
	}

	progress, err := h.service.GetProgress(ctx, tenantID, projection.ResourceID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if progress == nil || progress.Stage != enums.ProgressStageConfiguring {
		t.Fatalf("unexpected progress row: %+v", progress)
	}

	// Only one live row per resource, ever.
	var progressRows int64
	h.db.Model(&models.ProvisioningProgress{}).Count(&progressRows)
	if progressRows != 1 {
		t.Fatalf("expected 1 progress row, got %d", progressRows)
	}
}

func TestRecordProgressDropsReplayedStage(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	actor := systemActor(tenantID)
	projection := h.create(t, actor, uuid.New())
	ctx := context.Background()

	if err := h.service.RecordProgress(ctx, actor, projection.ResourceID, enums.ProgressStagePoweringOn); err != nil {
		t.Fatalf("record powering_on: %v", err)
	}
	// Redelivered earlier stage is a no-op, not an error.
	if err := h.service.RecordProgress(ctx, actor, projection.ResourceID, enums.ProgressStageCloning); err != nil {
		t.Fatalf("replayed stage should be dropped: %v", err)
	}

	progress, err := h.service.GetProgress(ctx, tenantID, projection.ResourceID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if progress.Stage != enums.ProgressStagePoweringOn {
		t.Fatalf("stage regressed: %s", progress.Stage)
	}

	var progressEvents int64
	h.db.Model(&models.DomainEvent{}).Where("event_type = ?", enums.EventProvisioningProgressed).Count(&progressEvents)
	if progressEvents != 1 {
		t.Fatalf("expected 1 progress event, got %d", progressEvents)
	}
}

func TestMarkProvisionedClearsProgress(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	actor := systemActor(tenantID)
	requestID := uuid.New()
	projection := h.create(t, actor, requestID)
	ctx := context.Background()

	if err := h.service.RecordProgress(ctx, actor, projection.ResourceID, enums.ProgressStageCloning); err != nil {
		t.Fatalf("record progress: %v", err)
	}

	address := "10.1.2.3"
	if err := h.service.MarkProvisioned(ctx, actor, projection.ResourceID, "vm-5021", &address, false); err != nil {
		t.Fatalf("mark provisioned: %v", err)
	}

	updated, err := h.service.GetByRequestID(ctx, tenantID, requestID)
	if err != nil {
		t.Fatalf("get by request: %v", err)
	}
	if updated.Status != enums.ResourceStatusRunning {
		t.Fatalf("expected RUNNING, got %s", updated.Status)
	}
	if updated.ExternalRef == nil || *updated.ExternalRef != "vm-5021" {
		t.Fatalf("external ref not recorded: %+v", updated)
	}
	if updated.Address == nil || *updated.Address != address {
		t.Fatalf("address not recorded: %+v", updated)
	}

	progress, err := h.service.GetProgress(ctx, tenantID, projection.ResourceID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if progress != nil {
		t.Fatalf("progress row must be deleted on completion: %+v", progress)
	}
}

func TestMarkProvisionedAddressPending(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	actor := systemActor(tenantID)
	requestID := uuid.New()
	projection := h.create(t, actor, requestID)
	ctx := context.Background()

	if err := h.service.MarkProvisioned(ctx, actor, projection.ResourceID, "vm-5022", nil, true); err != nil {
		t.Fatalf("mark provisioned: %v", err)
	}

	updated, err := h.service.GetByRequestID(ctx, tenantID, requestID)
	if err != nil {
		t.Fatalf("get by request: %v", err)
	}
	if !updated.AddressPending || updated.Address != nil {
		t.Fatalf("expected address pending without address: %+v", updated)
	}
}

func TestMarkProvisioningFailed(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	actor := systemActor(tenantID)
	requestID := uuid.New()
	projection := h.create(t, actor, requestID)
	ctx := context.Background()

	if err := h.service.MarkProvisioningFailed(ctx, actor, projection.ResourceID, "clone task failed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	updated, err := h.service.GetByRequestID(ctx, tenantID, requestID)
	if err != nil {
		t.Fatalf("get by request: %v", err)
	}
	if updated.Status != enums.ResourceStatusFailed {
		t.Fatalf("expected FAILED, got %s", updated.Status)
	}
	if updated.FailureReason == nil || *updated.FailureReason != "clone task failed" {
		t.Fatalf("failure reason not recorded: %+v", updated)
	}

	// Terminal states reject further transitions.
	err = h.service.MarkProvisioned(ctx, actor, projection.ResourceID, "vm-9999", nil, false)
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected CodeStateConflict after terminal state, got %v", err)
	}
	err = h.service.RecordProgress(ctx, actor, projection.ResourceID, enums.ProgressStageReady)
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected CodeStateConflict recording progress after failure, got %v", err)
	}
}

func TestResourceCrossTenantReadsAsNotFound(t *testing.T) {
	h := newHarness(t)
	actor := systemActor(uuid.New())
	projection := h.create(t, actor, uuid.New())

	foreign := systemActor(uuid.New())
	err := h.service.RecordProgress(context.Background(), foreign, projection.ResourceID, enums.ProgressStageCloning)
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected CodeNotFound for foreign tenant, got %v", err)
	}
}
