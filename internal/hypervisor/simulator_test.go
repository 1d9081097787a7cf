package hypervisor

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
)

func TestSimulatorWalksAllStages(t *testing.T) {
	sim := NewSimulator(0)
	var stages []enums.ProgressStage
	result, err := sim.CreateVM(context.Background(), CreateVMInput{
		TenantID: uuid.New(),
		Name:     "atlas-build-01",
		Size:     enums.VMSizeSmall,
	}, func(stage enums.ProgressStage) {
		stages = append(stages, stage)
	})
	if err != nil {
		t.Fatalf("create vm: %v", err)
	}

	want := []enums.ProgressStage{
		enums.ProgressStageCloning,
		enums.ProgressStageConfiguring,
		enums.ProgressStagePoweringOn,
		enums.ProgressStageWaitingForNetwork,
		enums.ProgressStageReady,
	}
	if len(stages) != len(want) {
		t.Fatalf("expected %d stages, got %d (%v)", len(want), len(stages), stages)
	}
	for i, stage := range want {
		if stages[i] != stage {
			t.Fatalf("stage %d: expected %s, got %s", i, stage, stages[i])
		}
	}
	if result.ExternalRef == "" {
		t.Fatal("expected an external ref")
	}
	if result.Address == nil || *result.Address == "" {
		t.Fatal("expected a guest address")
	}
	if result.AddressPending {
		t.Fatal("address should not be pending")
	}
	if !sim.Exists(result.ExternalRef) {
		t.Fatal("vm should be tracked after creation")
	}
}

func TestSimulatorIsDeterministic(t *testing.T) {
	tenantID := uuid.New()
	input := CreateVMInput{TenantID: tenantID, Name: "atlas-build-01", Size: enums.VMSizeMedium}

	first, err := NewSimulator(0).CreateVM(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := NewSimulator(0).CreateVM(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.ExternalRef != second.ExternalRef {
		t.Fatalf("refs differ: %s vs %s", first.ExternalRef, second.ExternalRef)
	}
	if *first.Address != *second.Address {
		t.Fatalf("addresses differ: %s vs %s", *first.Address, *second.Address)
	}
}

func TestSimulatorFailureSuffix(t *testing.T) {
	sim := NewSimulator(0)
	var stages []enums.ProgressStage
	_, err := sim.CreateVM(context.Background(), CreateVMInput{
		TenantID: uuid.New(),
		Name:     "atlas-fail",
		Size:     enums.VMSizeSmall,
	}, func(stage enums.ProgressStage) {
		stages = append(stages, stage)
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("failure should surface after configuring, saw stages %v", stages)
	}
}

func TestSimulatorAddressPendingSuffix(t *testing.T) {
	sim := NewSimulator(0)
	result, err := sim.CreateVM(context.Background(), CreateVMInput{
		TenantID: uuid.New(),
		Name:     "atlas-noaddr",
		Size:     enums.VMSizeSmall,
	}, nil)
	if err != nil {
		t.Fatalf("create vm: %v", err)
	}
	if result.Address != nil {
		t.Fatal("expected no address")
	}
	if !result.AddressPending {
		t.Fatal("expected address pending")
	}
}

func TestSimulatorDeleteVM(t *testing.T) {
	sim := NewSimulator(0)
	result, err := sim.CreateVM(context.Background(), CreateVMInput{
		TenantID: uuid.New(),
		Name:     "atlas-build-02",
		Size:     enums.VMSizeSmall,
	}, nil)
	if err != nil {
		t.Fatalf("create vm: %v", err)
	}
	if err := sim.DeleteVM(context.Background(), result.ExternalRef); err != nil {
		t.Fatalf("delete vm: %v", err)
	}
	if sim.Exists(result.ExternalRef) {
		t.Fatal("vm should be gone after delete")
	}
	if err := sim.DeleteVM(context.Background(), result.ExternalRef); err != nil {
		t.Fatalf("deleting an unknown ref should be a no-op, got %v", err)
	}
	if err := sim.DeleteVM(context.Background(), " "); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
