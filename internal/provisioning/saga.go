package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/internal/hypervisor"
	"github.com/dcmlabs/dvmm-backend/internal/request"
	"github.com/dcmlabs/dvmm-backend/internal/resource"
	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/metrics"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/payloads"
)

// systemUserID is the identity the worker acts under. Commands driven by the
// saga carry it instead of a human actor.
var systemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

const systemRole = "system"

const (
	outcomeReady  = "ready"
	outcomeFailed = "failed"
)

type requestService interface {
	StartProvisioning(ctx context.Context, actor request.Actor, requestID uuid.UUID) (*payloads.ProvisioningStartedEvent, error)
	MarkReady(ctx context.Context, actor request.Actor, requestID, resourceID uuid.UUID, address *string, degraded bool) error
	MarkFailed(ctx context.Context, actor request.Actor, requestID, resourceID uuid.UUID, reason string) error
	GetRequest(ctx context.Context, tenantID, requestID uuid.UUID) (*models.RequestProjection, error)
}

type resourceService interface {
	Create(ctx context.Context, actor resource.Actor, input resource.CreateInput) (*models.ResourceProjection, error)
	RecordProgress(ctx context.Context, actor resource.Actor, resourceID uuid.UUID, stage enums.ProgressStage) error
	MarkProvisioned(ctx context.Context, actor resource.Actor, resourceID uuid.UUID, externalRef string, address *string, addressPending bool) error
	MarkProvisioningFailed(ctx context.Context, actor resource.Actor, resourceID uuid.UUID, reason string) error
	GetByRequestID(ctx context.Context, tenantID, requestID uuid.UUID) (*models.ResourceProjection, error)
}

// Saga drives an approved request through the hypervisor to a terminal
// state. Every step is an idempotent command, so a redelivered approval
// resumes where the last run stopped instead of double-provisioning.
type Saga struct {
	requests  requestService
	resources resourceService
	hv        hypervisor.Client
	met       *metrics.ProvisioningMetrics
	logg      *logger.Logger
}

// NewSaga builds the provisioning saga.
func NewSaga(requests requestService, resources resourceService, hv hypervisor.Client, met *metrics.ProvisioningMetrics, logg *logger.Logger) (*Saga, error) {
	if requests == nil {
		return nil, fmt.Errorf("request service is required")
	}
	if resources == nil {
		return nil, fmt.Errorf("resource service is required")
	}
	if hv == nil {
		return nil, fmt.Errorf("hypervisor client is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Saga{requests: requests, resources: resources, hv: hv, met: met, logg: logg}, nil
}

// Provision handles one approved request. A nil return means the approval is
// fully handled and the message can be acked; an error means the run should
// be retried.
func (s *Saga) Provision(ctx context.Context, approved payloads.RequestApprovedEvent, correlationID uuid.UUID) error {
	reqActor := request.Actor{UserID: systemUserID, TenantID: approved.TenantID, Role: systemRole, CorrelationID: correlationID}
	resActor := resource.Actor{UserID: systemUserID, TenantID: approved.TenantID, Role: systemRole, CorrelationID: correlationID}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"request_id": approved.RequestID.String(),
		"tenant_id":  approved.TenantID.String(),
	})

	spec, err := s.startProvisioning(ctx, reqActor, approved)
	if err != nil {
		return err
	}
	if spec == nil {
		// already in a terminal state, nothing left to drive
		return nil
	}

	res, err := s.ensureResource(ctx, resActor, spec)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	ctx = s.logg.WithField(ctx, "resource_id", res.ResourceID.String())

	switch res.Status {
	case enums.ResourceStatusRunning:
		// crashed after the VM came up; finish the request side
		return s.requests.MarkReady(ctx, reqActor, spec.RequestID, res.ResourceID, res.Address, res.AddressPending)
	case enums.ResourceStatusFailed:
		reason := "provisioning failed"
		if res.FailureReason != nil {
			reason = *res.FailureReason
		}
		return s.requests.MarkFailed(ctx, reqActor, spec.RequestID, res.ResourceID, reason)
	}

	return s.runHypervisor(ctx, reqActor, resActor, spec, res)
}

// startProvisioning transitions the request to PROVISIONING. A request that
// already left APPROVED is resolved from its projection: still provisioning
// means resume, anything else means done.
func (s *Saga) startProvisioning(ctx context.Context, actor request.Actor, approved payloads.RequestApprovedEvent) (*payloads.ProvisioningStartedEvent, error) {
	started, err := s.requests.StartProvisioning(ctx, actor, approved.RequestID)
	if err == nil {
		return started, nil
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		return nil, err
	}

	proj, err := s.requests.GetRequest(ctx, approved.TenantID, approved.RequestID)
	if err != nil {
		return nil, err
	}
	if proj.Status != enums.RequestStatusProvisioning {
		s.logg.Info(s.logg.WithField(ctx, "status", string(proj.Status)), "request no longer provisionable")
		return nil, nil
	}
	return &payloads.ProvisioningStartedEvent{
		RequestID:   proj.RequestID,
		TenantID:    proj.TenantID,
		ProjectName: proj.ProjectName,
		VMName:      proj.VMName,
		Size:        proj.Size,
	}, nil
}

// ensureResource opens the resource stream, or picks up the one a previous
// run already created.
func (s *Saga) ensureResource(ctx context.Context, actor resource.Actor, spec *payloads.ProvisioningStartedEvent) (*models.ResourceProjection, error) {
	res, err := s.resources.Create(ctx, actor, resource.CreateInput{
		RequestID: spec.RequestID,
		VMName:    spec.VMName,
		Size:      spec.Size,
	})
	if err == nil {
		return res, nil
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		return nil, err
	}
	s.logg.Info(ctx, "resource already exists, resuming")
	existing, err := s.resources.GetByRequestID(ctx, spec.TenantID, spec.RequestID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "resource stream exists without a projection")
	}
	return existing, nil
}

// runHypervisor builds the machine and records the terminal outcome on both
// aggregates. Hypervisor failures end the run in FAILED rather than bubbling
// up, so the message is not redelivered into a dead request.
func (s *Saga) runHypervisor(ctx context.Context, reqActor request.Actor, resActor resource.Actor, spec *payloads.ProvisioningStartedEvent, res *models.ResourceProjection) error {
	startedAt := time.Now()
	result, err := s.hv.CreateVM(ctx, hypervisor.CreateVMInput{
		TenantID: spec.TenantID,
		Name:     spec.VMName,
		Size:     spec.Size,
	}, func(stage enums.ProgressStage) {
		s.met.IncStage(stage.String())
		if progressErr := s.resources.RecordProgress(ctx, resActor, res.ResourceID, stage); progressErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "stage", stage.String()), "progress checkpoint not recorded")
		}
	})
	if err != nil {
		s.met.ObserveRun(outcomeFailed, time.Since(startedAt))
		s.logg.Error(ctx, "hypervisor provisioning failed", err)
		reason := failureReason(err)
		if markErr := s.resources.MarkProvisioningFailed(ctx, resActor, res.ResourceID, reason); markErr != nil {
			return markErr
		}
		return s.requests.MarkFailed(ctx, reqActor, spec.RequestID, res.ResourceID, reason)
	}

	if err := s.resources.MarkProvisioned(ctx, resActor, res.ResourceID, result.ExternalRef, result.Address, result.AddressPending); err != nil {
		return err
	}
	if err := s.requests.MarkReady(ctx, reqActor, spec.RequestID, res.ResourceID, result.Address, result.AddressPending); err != nil {
		return err
	}
	s.met.ObserveRun(outcomeReady, time.Since(startedAt))
	s.logg.Info(ctx, "provisioning run completed")
	return nil
}

// failureReason derives the recorded failure text from the hypervisor error.
// Internal detail stays in logs; the stored reason is the stable message.
func failureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return "hypervisor call failed"
}
