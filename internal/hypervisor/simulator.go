package hypervisor

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
)

// Simulator is an in-memory hypervisor used in development and tests. It
// walks every progress stage deterministically and derives refs and
// addresses from the VM name, so repeated runs produce identical output.
//
// Two name suffixes steer outcomes: "-fail" aborts mid-provisioning and
// "-noaddr" finishes without a guest address.
type Simulator struct {
	stepDelay time.Duration

	mtx sync.Mutex
	vms map[string]CreateVMInput
}

// NewSimulator builds a simulator. stepDelay is inserted between stages; use
// zero in tests.
func NewSimulator(stepDelay time.Duration) *Simulator {
	return &Simulator{
		stepDelay: stepDelay,
		vms:       make(map[string]CreateVMInput),
	}
}

// CreateVM implements Client.
func (s *Simulator) CreateVM(ctx context.Context, input CreateVMInput, onProgress ProgressFunc) (*CreateVMResult, error) {
	if onProgress == nil {
		onProgress = func(enums.ProgressStage) {}
	}
	step := func(stage enums.ProgressStage) error {
		onProgress(stage)
		if s.stepDelay <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "simulator interrupted")
		case <-time.After(s.stepDelay):
			return nil
		}
	}

	if err := step(enums.ProgressStageCloning); err != nil {
		return nil, err
	}
	if err := step(enums.ProgressStageConfiguring); err != nil {
		return nil, err
	}
	if strings.HasSuffix(input.Name, "-fail") {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "simulated provisioning failure")
	}
	if err := step(enums.ProgressStagePoweringOn); err != nil {
		return nil, err
	}
	if err := step(enums.ProgressStageWaitingForNetwork); err != nil {
		return nil, err
	}

	ref := s.externalRef(input)
	s.mtx.Lock()
	s.vms[ref] = input
	s.mtx.Unlock()

	result := &CreateVMResult{ExternalRef: ref}
	if strings.HasSuffix(input.Name, "-noaddr") {
		result.AddressPending = true
	} else {
		addr := s.address(input)
		result.Address = &addr
	}
	if err := step(enums.ProgressStageReady); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteVM implements Client. Deleting an unknown ref is a no-op.
func (s *Simulator) DeleteVM(ctx context.Context, externalRef string) error {
	if strings.TrimSpace(externalRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external ref is required")
	}
	s.mtx.Lock()
	delete(s.vms, externalRef)
	s.mtx.Unlock()
	return nil
}

// TestConnectivity implements Client.
func (s *Simulator) TestConnectivity(ctx context.Context) error {
	return ctx.Err()
}

// Exists reports whether a ref is currently provisioned. Only tests use it.
func (s *Simulator) Exists(externalRef string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	_, ok := s.vms[externalRef]
	return ok
}

func (s *Simulator) externalRef(input CreateVMInput) string {
	return fmt.Sprintf("sim-%s-%s", input.TenantID.String()[:8], input.Name)
}

func (s *Simulator) address(input CreateVMInput) string {
	h := fnv.New32a()
	h.Write([]byte(input.TenantID.String()))
	h.Write([]byte(input.Name))
	sum := h.Sum32()
	return fmt.Sprintf("10.%d.%d.%d", byte(sum>>16), byte(sum>>8), byte(sum)|1)
}
