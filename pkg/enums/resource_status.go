package enums

import "fmt"

// ResourceStatus tracks the lifecycle of a provisioned VM resource.
// The terminal success state is RUNNING; the owning request's terminal
// success state is READY.
type ResourceStatus string

const (
	ResourceStatusProvisioning ResourceStatus = "PROVISIONING"
	ResourceStatusRunning      ResourceStatus = "RUNNING"
	ResourceStatusFailed       ResourceStatus = "FAILED"
	ResourceStatusTerminated   ResourceStatus = "TERMINATED"
)

var validResourceStatuses = []ResourceStatus{
	ResourceStatusProvisioning,
	ResourceStatusRunning,
	ResourceStatusFailed,
	ResourceStatusTerminated,
}

// String implements fmt.Stringer.
func (r ResourceStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ResourceStatus.
func (r ResourceStatus) IsValid() bool {
	for _, candidate := range validResourceStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (r ResourceStatus) IsTerminal() bool {
	switch r {
	case ResourceStatusRunning, ResourceStatusFailed, ResourceStatusTerminated:
		return true
	}
	return false
}

// ParseResourceStatus converts raw input into a ResourceStatus.
func ParseResourceStatus(value string) (ResourceStatus, error) {
	for _, candidate := range validResourceStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid resource status %q", value)
}
