package enums

import "fmt"

// ActorRole is the caller's role carried in the access token.
type ActorRole string

const (
	RoleRequester ActorRole = "requester"
	RoleApprover  ActorRole = "approver"
	RoleAdmin     ActorRole = "admin"
)

var validActorRoles = []ActorRole{RoleRequester, RoleApprover, RoleAdmin}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanDecide reports whether the role may approve or reject requests.
func (r ActorRole) CanDecide() bool {
	return r == RoleApprover || r == RoleAdmin
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
