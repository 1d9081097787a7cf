package enums

import "fmt"

// ProgressStage is a discrete provisioning checkpoint reported by the
// hypervisor. Stages are intentionally coarse; continuous percentages are
// never persisted.
type ProgressStage string

const (
	ProgressStageCloning           ProgressStage = "cloning"
	ProgressStageConfiguring       ProgressStage = "configuring"
	ProgressStagePoweringOn        ProgressStage = "powering_on"
	ProgressStageWaitingForNetwork ProgressStage = "waiting_for_network"
	ProgressStageReady             ProgressStage = "ready"
)

var orderedProgressStages = []ProgressStage{
	ProgressStageCloning,
	ProgressStageConfiguring,
	ProgressStagePoweringOn,
	ProgressStageWaitingForNetwork,
	ProgressStageReady,
}

// String implements fmt.Stringer.
func (p ProgressStage) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ProgressStage.
func (p ProgressStage) IsValid() bool {
	return p.ordinal() >= 0
}

// After reports whether p comes after other in the provisioning sequence.
func (p ProgressStage) After(other ProgressStage) bool {
	return p.ordinal() > other.ordinal()
}

func (p ProgressStage) ordinal() int {
	for i, candidate := range orderedProgressStages {
		if candidate == p {
			return i
		}
	}
	return -1
}

// ParseProgressStage converts raw input into a ProgressStage.
func ParseProgressStage(value string) (ProgressStage, error) {
	for _, candidate := range orderedProgressStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid progress stage %q", value)
}
