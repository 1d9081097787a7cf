package hypervisor

import (
	"context"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
)

// ProgressFunc receives stage transitions while a VM is being built. The
// callback runs on the provisioning goroutine; implementations must be quick.
type ProgressFunc func(stage enums.ProgressStage)

// CreateVMInput describes the machine to build.
type CreateVMInput struct {
	TenantID uuid.UUID
	Name     string
	Size     enums.VMSize
}

// CreateVMResult is the outcome of a successful provisioning run.
// AddressPending is set when the guest address never surfaced inside the
// discovery window; the VM is still up.
type CreateVMResult struct {
	ExternalRef    string
	Address        *string
	AddressPending bool
}

// Client is the hypervisor port. The provisioning worker depends on this
// interface only; vSphere and the simulator are the two adapters.
type Client interface {
	CreateVM(ctx context.Context, input CreateVMInput, onProgress ProgressFunc) (*CreateVMResult, error)
	DeleteVM(ctx context.Context, externalRef string) error
	TestConnectivity(ctx context.Context) error
}
