package resource

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/internal/eventstore"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/payloads"
)

// Aggregate is the rehydrated state of a resource stream.
type Aggregate struct {
	ID             uuid.UUID
	RequestID      uuid.UUID
	TenantID       uuid.UUID
	VMName         string
	Size           enums.VMSize
	Status         enums.ResourceStatus
	Stage          enums.ProgressStage
	ExternalRef    *string
	Address        *string
	AddressPending bool
	FailureReason  *string
	Version        int64
}

// Replay folds the stream into an aggregate.
func Replay(events []eventstore.Event) (*Aggregate, error) {
	if len(events) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "resource not found")
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
	case *payloads.ResourceCreatedEvent:
		if a.Version != 0 {
			return corruptStream(ev, "creation must open the stream")
		}
		a.ID = payload.ResourceID
		a.RequestID = payload.RequestID
		a.TenantID = payload.TenantID
		a.VMName = payload.VMName
		a.Size = payload.Size
		a.Status = enums.ResourceStatusProvisioning

	case *payloads.ProvisioningProgressedEvent:
		if a.Status != enums.ResourceStatusProvisioning {
			return corruptStream(ev, "progress requires provisioning state")
		}
		a.Stage = payload.Stage

	case *payloads.ResourceProvisionedEvent:
		if a.Status != enums.ResourceStatusProvisioning {
			return corruptStream(ev, "completion requires provisioning state")
		}
		ref := payload.ExternalRef
		a.ExternalRef = &ref
		a.Address = payload.Address
		a.AddressPending = payload.AddressPending
		a.Status = enums.ResourceStatusRunning

	case *payloads.ResourceProvisioningFailedEvent:
		if a.Status != enums.ResourceStatusProvisioning {
			return corruptStream(ev, "failure requires provisioning state")
		}
		reason := payload.Reason
		a.FailureReason = &reason
		a.Status = enums.ResourceStatusFailed

	default:
		return corruptStream(ev, "unexpected event type")
	}

	a.Version = ev.Version
	return nil
}

func corruptStream(ev eventstore.Event, reason string) error {
	return pkgerrors.New(pkgerrors.CodeInternal,
		fmt.Sprintf("corrupt resource stream at version %d (%s): %s", ev.Version, ev.Type, reason))
}

// guardProgress validates a stage report. Replayed or out-of-order stages are
// skipped rather than failed so redelivery stays harmless.
func (a *Aggregate) guardProgress(stage enums.ProgressStage) (bool, error) {
	if !stage.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid progress stage")
	}
	if a.Status != enums.ResourceStatusProvisioning {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot record progress in state %s", a.Status))
	}
	if a.Stage != "" && !stage.After(a.Stage) {
		return false, nil
	}
	return true, nil
}

// guardComplete validates the terminal provisioned/failed transitions.
func (a *Aggregate) guardComplete() error {
	if a.Status != enums.ResourceStatusProvisioning {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot complete resource in state %s", a.Status))
	}
	return nil
}
