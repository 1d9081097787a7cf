package controllers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/dcmlabs/dvmm-backend/api/responses"
	"github.com/dcmlabs/dvmm-backend/pkg/config"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
)

const readinessTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the backing services probed by the readiness check. Nil
// entries are skipped so workers can reuse the probe with a partial set.
type Dependencies struct {
	DB       pinger
	Redis    pinger
	PubSub   pinger
	BigQuery pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-DVMM-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.HandlerFunc {
	probes := []struct {
		name string
		dep  pinger
	}{
		{"db", deps.DB},
		{"redis", deps.Redis},
		{"pubsub", deps.PubSub},
		{"bigquery", deps.BigQuery},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-DVMM-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		var failed error
		checks := map[string]string{}
		for _, probe := range probes {
			if probe.dep == nil {
				continue
			}
			if err := probe.dep.Ping(ctx); err != nil {
				checks[probe.name] = "down"
				failed = multierr.Append(failed, err)
				continue
			}
			checks[probe.name] = "ok"
		}

		if failed != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, failed, "dependency not ready"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
