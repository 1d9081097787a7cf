package enums

import "fmt"

// RequestStatus tracks the lifecycle of a VM request.
type RequestStatus string

const (
	RequestStatusPending      RequestStatus = "PENDING"
	RequestStatusApproved     RequestStatus = "APPROVED"
	RequestStatusRejected     RequestStatus = "REJECTED"
	RequestStatusCancelled    RequestStatus = "CANCELLED"
	RequestStatusProvisioning RequestStatus = "PROVISIONING"
	RequestStatusReady        RequestStatus = "READY"
	RequestStatusFailed       RequestStatus = "FAILED"
)

var validRequestStatuses = []RequestStatus{
	RequestStatusPending,
	RequestStatusApproved,
	RequestStatusRejected,
	RequestStatusCancelled,
	RequestStatusProvisioning,
	RequestStatusReady,
	RequestStatusFailed,
}

// String implements fmt.Stringer.
func (r RequestStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RequestStatus.
func (r RequestStatus) IsValid() bool {
	for _, candidate := range validRequestStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (r RequestStatus) IsTerminal() bool {
	switch r {
	case RequestStatusRejected, RequestStatusCancelled, RequestStatusReady, RequestStatusFailed:
		return true
	}
	return false
}

// ParseRequestStatus converts raw input into a RequestStatus.
func ParseRequestStatus(value string) (RequestStatus, error) {
	for _, candidate := range validRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid request status %q", value)
}
