package payloads

import (
	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
)

// RequestSubmittedEvent records a new VM request entering the approval queue.
type RequestSubmittedEvent struct {
	RequestID     uuid.UUID    `json:"request_id"`
	TenantID      uuid.UUID    `json:"tenant_id"`
	RequesterID   uuid.UUID    `json:"requester_id"`
	RequesterName string       `json:"requester_name"`
	ProjectName   string       `json:"project_name"`
	VMName        string       `json:"vm_name"`
	Size          enums.VMSize `json:"size"`
	Justification string       `json:"justification"`
}

// RequestApprovedEvent is emitted when an approver accepts a pending request.
type RequestApprovedEvent struct {
	RequestID  uuid.UUID `json:"request_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ApproverID uuid.UUID `json:"approver_id"`
	Reason     string    `json:"reason,omitempty"`
}

// RequestRejectedEvent is emitted when an approver declines a pending request.
type RequestRejectedEvent struct {
	RequestID  uuid.UUID `json:"request_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ApproverID uuid.UUID `json:"approver_id"`
	Reason     string    `json:"reason"`
}

// RequestCancelledEvent is emitted when the requester withdraws a pending request.
type RequestCancelledEvent struct {
	RequestID   uuid.UUID `json:"request_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	CancelledBy uuid.UUID `json:"cancelled_by"`
}

// ProvisioningStartedEvent hands an approved request to the provisioning saga.
// It carries everything the worker needs so it never reads the request stream.
type ProvisioningStartedEvent struct {
	RequestID   uuid.UUID    `json:"request_id"`
	TenantID    uuid.UUID    `json:"tenant_id"`
	ProjectName string       `json:"project_name"`
	VMName      string       `json:"vm_name"`
	Size        enums.VMSize `json:"size"`
}

// RequestReadyEvent closes a request whose VM came up. Degraded marks runs
// where the address never surfaced before the discovery window elapsed.
type RequestReadyEvent struct {
	RequestID  uuid.UUID `json:"request_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Address    *string   `json:"address,omitempty"`
	Degraded   bool      `json:"degraded"`
}

// RequestFailedEvent closes a request whose provisioning run failed terminally.
type RequestFailedEvent struct {
	RequestID  uuid.UUID `json:"request_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Reason     string    `json:"reason"`
}

// ResourceCreatedEvent opens a resource stream for an approved request.
type ResourceCreatedEvent struct {
	ResourceID uuid.UUID    `json:"resource_id"`
	RequestID  uuid.UUID    `json:"request_id"`
	TenantID   uuid.UUID    `json:"tenant_id"`
	VMName     string       `json:"vm_name"`
	Size       enums.VMSize `json:"size"`
}

// ProvisioningProgressedEvent reports a stage transition during a run.
type ProvisioningProgressedEvent struct {
	ResourceID uuid.UUID           `json:"resource_id"`
	RequestID  uuid.UUID           `json:"request_id"`
	TenantID   uuid.UUID           `json:"tenant_id"`
	Stage      enums.ProgressStage `json:"stage"`
}

// ResourceProvisionedEvent records a VM that reached running state.
// AddressPending is true when the run gave up waiting for address discovery.
type ResourceProvisionedEvent struct {
	ResourceID     uuid.UUID `json:"resource_id"`
	RequestID      uuid.UUID `json:"request_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	ExternalRef    string    `json:"external_ref"`
	Address        *string   `json:"address,omitempty"`
	AddressPending bool      `json:"address_pending"`
}

// ResourceProvisioningFailedEvent records a terminal provisioning failure.
type ResourceProvisioningFailedEvent struct {
	ResourceID uuid.UUID `json:"resource_id"`
	RequestID  uuid.UUID `json:"request_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Reason     string    `json:"reason"`
}
