package hypervisor

import (
	"time"

	"github.com/dcmlabs/dvmm-backend/pkg/config"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/metrics"
)

const simulatorStepDelay = 250 * time.Millisecond

// New selects the adapter named by configuration.
func New(cfg config.HypervisorConfig, logg *logger.Logger, met *metrics.ProvisioningMetrics) (Client, error) {
	if cfg.IsSimulator() {
		return NewSimulator(simulatorStepDelay), nil
	}
	return NewVSphereClient(cfg, logg, met)
}
