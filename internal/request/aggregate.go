package request

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/internal/eventstore"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/payloads"
)

const (
	minRejectReasonLen = 10
	maxRejectReasonLen = 500
)

// Aggregate is the rehydrated state of a VM request stream. It is a pure
// left-fold over events; nothing here touches storage.
type Aggregate struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	RequesterID    uuid.UUID
	RequesterName  string
	ProjectName    string
	VMName         string
	Size           enums.VMSize
	Justification  string
	Status         enums.RequestStatus
	DecidedBy      *uuid.UUID
	DecisionReason *string
	ResourceID     *uuid.UUID
	Degraded       bool
	Version        int64
}

// Replay folds the stream into an aggregate. The first event must be a
// submission; anything else means the stream is corrupt.
func Replay(events []eventstore.Event) (*Aggregate, error) {
	if len(events) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
	}
	agg := &Aggregate{}
	for _, ev := range events {
		if err := agg.apply(ev); err != nil {
			return nil, err
		}
	}
	return agg, nil
}

func (a *Aggregate) apply(ev eventstore.Event) error {
	switch payload := ev.Payload.(type) {
	case *payloads.RequestSubmittedEvent:
		if a.Version != 0 {
			return corruptStream(ev, "submission must open the stream")
		}
		a.ID = payload.RequestID
		a.TenantID = payload.TenantID
		a.RequesterID = payload.RequesterID
		a.RequesterName = payload.RequesterName
		a.ProjectName = payload.ProjectName
		a.VMName = payload.VMName
		a.Size = payload.Size
		a.Justification = payload.Justification
		a.Status = enums.RequestStatusPending

	case *payloads.RequestApprovedEvent:
		if a.Status != enums.RequestStatusPending {
			return corruptStream(ev, "approval requires pending state")
		}
		approver := payload.ApproverID
		a.DecidedBy = &approver
		if payload.Reason != "" {
			reason := payload.Reason
			a.DecisionReason = &reason
		}
		a.Status = enums.RequestStatusApproved

	case *payloads.RequestRejectedEvent:
		if a.Status != enums.RequestStatusPending {
			return corruptStream(ev, "rejection requires pending state")
		}
		approver := payload.ApproverID
		reason := payload.Reason
		a.DecidedBy = &approver
		a.DecisionReason = &reason
		a.Status = enums.RequestStatusRejected

	case *payloads.RequestCancelledEvent:
		if a.Status != enums.RequestStatusPending {
			return corruptStream(ev, "cancellation requires pending state")
		}
		a.Status = enums.RequestStatusCancelled

	case *payloads.ProvisioningStartedEvent:
		if a.Status != enums.RequestStatusApproved {
			return corruptStream(ev, "provisioning requires approved state")
		}
		a.Status = enums.RequestStatusProvisioning

	case *payloads.RequestReadyEvent:
		if a.Status != enums.RequestStatusProvisioning {
			return corruptStream(ev, "ready requires provisioning state")
		}
		resourceID := payload.ResourceID
		a.ResourceID = &resourceID
		a.Degraded = payload.Degraded
		a.Status = enums.RequestStatusReady

	case *payloads.RequestFailedEvent:
		if a.Status != enums.RequestStatusProvisioning {
			return corruptStream(ev, "failure requires provisioning state")
		}
		resourceID := payload.ResourceID
		a.ResourceID = &resourceID
		a.Status = enums.RequestStatusFailed

	default:
		return corruptStream(ev, "unexpected event type")
	}

	a.Version = ev.Version
	return nil
}

func corruptStream(ev eventstore.Event, reason string) error {
	return pkgerrors.New(pkgerrors.CodeInternal,
		fmt.Sprintf("corrupt request stream at version %d (%s): %s", ev.Version, ev.Type, reason))
}

// guardApprove validates the approve command. Separation of duties holds in
// every state, so the self-decision check runs before the state guard.
func (a *Aggregate) guardApprove(approverID uuid.UUID) error {
	if approverID == a.RequesterID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "requester cannot approve their own request")
	}
	return a.guardDecision()
}

// guardReject validates the reject command. Same ordering as guardApprove.
func (a *Aggregate) guardReject(approverID uuid.UUID, reason string) error {
	if approverID == a.RequesterID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "requester cannot reject their own request")
	}
	if err := a.guardDecision(); err != nil {
		return err
	}
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}
	if len(reason) < minRejectReasonLen || len(reason) > maxRejectReasonLen {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("rejection reason must be between %d and %d characters", minRejectReasonLen, maxRejectReasonLen))
	}
	return nil
}

func (a *Aggregate) guardDecision() error {
	switch a.Status {
	case enums.RequestStatusPending:
		return nil
	case enums.RequestStatusApproved, enums.RequestStatusRejected, enums.RequestStatusCancelled:
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("request already decided (%s)", a.Status))
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("request is not awaiting decision (%s)", a.Status))
	}
}

// errCancelNoop signals that the request is already cancelled. Callers treat
// it as success without appending a second RequestCancelled event.
var errCancelNoop = errors.New("request already cancelled")

// guardCancel validates the cancel command. Only the requester can withdraw,
// and only while the request is still pending. Cancelling an already
// cancelled request is a no-op rather than a conflict.
func (a *Aggregate) guardCancel(actorID uuid.UUID) error {
	if actorID != a.RequesterID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the requester can cancel")
	}
	if a.Status == enums.RequestStatusCancelled {
		return errCancelNoop
	}
	if a.Status != enums.RequestStatusPending {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot cancel request in state %s", a.Status))
	}
	return nil
}

// guardStartProvisioning validates the saga's handoff transition.
func (a *Aggregate) guardStartProvisioning() error {
	if a.Status != enums.RequestStatusApproved {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot start provisioning in state %s", a.Status))
	}
	return nil
}

// guardComplete validates the terminal ready/failed transitions.
func (a *Aggregate) guardComplete() error {
	if a.Status != enums.RequestStatusProvisioning {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot complete request in state %s", a.Status))
	}
	return nil
}
