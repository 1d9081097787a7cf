package enums

import "fmt"

// AggregateType maps to the aggregate_type enum in Postgres.
type AggregateType string

const (
	AggregateRequest  AggregateType = "request"
	AggregateResource AggregateType = "resource"
)

var validAggregateTypes = []AggregateType{
	AggregateRequest,
	AggregateResource,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a AggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAggregateType converts raw input into an AggregateType.
func ParseAggregateType(value string) (AggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// EventType maps to the event_type enum in Postgres. New event types are
// additive only; persisted events are never rewritten.
type EventType string

const (
	EventRequestSubmitted    EventType = "request_submitted"
	EventRequestApproved     EventType = "request_approved"
	EventRequestRejected     EventType = "request_rejected"
	EventRequestCancelled    EventType = "request_cancelled"
	EventProvisioningStarted EventType = "provisioning_started"
	EventRequestReady        EventType = "request_ready"
	EventRequestFailed       EventType = "request_failed"

	EventResourceCreated            EventType = "resource_created"
	EventProvisioningProgressed     EventType = "provisioning_progressed"
	EventResourceProvisioned        EventType = "resource_provisioned"
	EventResourceProvisioningFailed EventType = "resource_provisioning_failed"
)

var validEventTypes = []EventType{
	EventRequestSubmitted,
	EventRequestApproved,
	EventRequestRejected,
	EventRequestCancelled,
	EventProvisioningStarted,
	EventRequestReady,
	EventRequestFailed,
	EventResourceCreated,
	EventProvisioningProgressed,
	EventResourceProvisioned,
	EventResourceProvisioningFailed,
}

// AllEventTypes returns every canonical event type.
func AllEventTypes() []EventType {
	out := make([]EventType, len(validEventTypes))
	copy(out, validEventTypes)
	return out
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into an EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
