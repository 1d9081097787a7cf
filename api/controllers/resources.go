package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/api/responses"
	"github.com/dcmlabs/dvmm-backend/internal/resource"
	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
)

// RequestResource returns the VM resource provisioned for a request, if any.
func RequestResource(svc resource.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "resource service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		requestID, err := requestIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := svc.GetByRequestID(r.Context(), actor.TenantID, requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if row == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "resource not found"))
			return
		}

		responses.WriteSuccess(w, resourceResponseFromModel(row))
	}
}

// ResourceProgress returns the current provisioning stage for an in-flight
// resource. Terminal resources have no progress row.
func ResourceProgress(svc resource.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "resource service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resourceID, err := uuid.Parse(chi.URLParam(r, "resourceId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid resource id"))
			return
		}

		row, err := svc.GetProgress(r.Context(), actor.TenantID, resourceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if row == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "progress not found"))
			return
		}

		responses.WriteSuccess(w, progressResponse{
			ResourceID: row.ResourceID,
			RequestID:  row.RequestID,
			Stage:      row.Stage,
			UpdatedAt:  row.UpdatedAt,
		})
	}
}

type resourceResponse struct {
	ResourceID     uuid.UUID            `json:"resource_id"`
	RequestID      uuid.UUID            `json:"request_id"`
	Status         enums.ResourceStatus `json:"status"`
	ExternalRef    *string              `json:"external_ref,omitempty"`
	Address        *string              `json:"address,omitempty"`
	AddressPending bool                 `json:"address_pending"`
	FailureReason  *string              `json:"failure_reason,omitempty"`
	Version        int64                `json:"version"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func resourceResponseFromModel(m *models.ResourceProjection) resourceResponse {
	return resourceResponse{
		ResourceID:     m.ResourceID,
		RequestID:      m.RequestID,
		Status:         m.Status,
		ExternalRef:    m.ExternalRef,
		Address:        m.Address,
		AddressPending: m.AddressPending,
		FailureReason:  m.FailureReason,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type progressResponse struct {
	ResourceID uuid.UUID           `json:"resource_id"`
	RequestID  uuid.UUID           `json:"request_id"`
	Stage      enums.ProgressStage `json:"stage"`
	UpdatedAt  time.Time           `json:"updated_at"`
}
