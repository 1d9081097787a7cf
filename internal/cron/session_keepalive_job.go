package cron

import (
	"context"
	"fmt"

	"github.com/dcmlabs/dvmm-backend/pkg/logger"
)

type sessionKeepAliver interface {
	KeepAlive(ctx context.Context) error
}

// SessionKeepAliveJobParams configure the hypervisor session refresher.
type SessionKeepAliveJobParams struct {
	Logger *logger.Logger
	Client sessionKeepAliver
}

// NewSessionKeepAliveJob keeps a warm vCenter session so provisioning runs
// do not pay a login after idle periods. The simulator has no sessions;
// callers skip registration in that case.
func NewSessionKeepAliveJob(params SessionKeepAliveJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Client == nil {
		return nil, fmt.Errorf("hypervisor client required")
	}
	return &sessionKeepAliveJob{logg: params.Logger, client: params.Client}, nil
}

type sessionKeepAliveJob struct {
	logg   *logger.Logger
	client sessionKeepAliver
}

func (j *sessionKeepAliveJob) Name() string { return "session-keepalive" }

func (j *sessionKeepAliveJob) Run(ctx context.Context) error {
	if err := j.client.KeepAlive(ctx); err != nil {
		return fmt.Errorf("session keepalive: %w", err)
	}
	j.logg.Info(ctx, "hypervisor session refreshed")
	return nil
}
