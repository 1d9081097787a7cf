package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dcmlabs/dvmm-backend/api/middleware"
	"github.com/dcmlabs/dvmm-backend/api/responses"
	"github.com/dcmlabs/dvmm-backend/api/validators"
	"github.com/dcmlabs/dvmm-backend/internal/request"
	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	pkgerrors "github.com/dcmlabs/dvmm-backend/pkg/errors"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/pagination"
)

// actorFromRequest rebuilds the command actor from the authenticated context.
func actorFromRequest(r *http.Request) (request.Actor, error) {
	userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return request.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	tenantID, err := uuid.Parse(middleware.TenantIDFromContext(r.Context()))
	if err != nil {
		return request.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "tenant context missing")
	}

	correlationID := uuid.New()
	if parsed, err := uuid.Parse(strings.TrimSpace(r.Header.Get("X-Request-Id"))); err == nil {
		correlationID = parsed
	}

	return request.Actor{
		UserID:        userID,
		TenantID:      tenantID,
		Role:          middleware.RoleFromContext(r.Context()),
		CorrelationID: correlationID,
	}, nil
}

func requestIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "requestId"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid request id")
	}
	return id, nil
}

type submitRequestBody struct {
	RequesterName string `json:"requester_name" validate:"required,max=200"`
	ProjectName   string `json:"project_name" validate:"required,max=200"`
	VMName        string `json:"vm_name" validate:"required,min=3,max=63,hostname_rfc1123"`
	Size          string `json:"size" validate:"required"`
	Justification string `json:"justification" validate:"required,max=2000"`
}

func (b submitRequestBody) toInput() (request.SubmitInput, error) {
	size, err := enums.ParseVMSize(strings.TrimSpace(b.Size))
	if err != nil {
		return request.SubmitInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid vm size")
	}
	return request.SubmitInput{
		RequesterName: strings.TrimSpace(b.RequesterName),
		ProjectName:   strings.TrimSpace(b.ProjectName),
		VMName:        strings.TrimSpace(b.VMName),
		Size:          size,
		Justification: strings.TrimSpace(b.Justification),
	}, nil
}

type decisionBody struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// RequestSubmit handles opening a new VM request for the caller's tenant.
func RequestSubmit(svc request.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "request service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body submitRequestBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := body.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Submit(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, requestResponseFromModel(created))
	}
}

// RequestApprove moves a pending request into the provisioning pipeline.
func RequestApprove(svc request.Service, logg *logger.Logger) http.HandlerFunc {
	return decisionHandler(svc, logg, func(ctx *http.Request, svc request.Service, actor request.Actor, id uuid.UUID, reason string) (*models.RequestProjection, error) {
		return svc.Approve(ctx.Context(), actor, id, reason)
	})
}

// RequestReject closes a pending request with a mandatory reason.
func RequestReject(svc request.Service, logg *logger.Logger) http.HandlerFunc {
	return decisionHandler(svc, logg, func(ctx *http.Request, svc request.Service, actor request.Actor, id uuid.UUID, reason string) (*models.RequestProjection, error) {
		return svc.Reject(ctx.Context(), actor, id, reason)
	})
}

func decisionHandler(svc request.Service, logg *logger.Logger, decide func(*http.Request, request.Service, request.Actor, uuid.UUID, string) (*models.RequestProjection, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "request service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		role, err := enums.ParseActorRole(actor.Role)
		if err != nil || !role.CanDecide() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot decide requests"))
			return
		}

		requestID, err := requestIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body decisionBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := decide(r, svc, actor, requestID, body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, requestResponseFromModel(updated))
	}
}

// RequestCancel lets the requester withdraw their own pending request.
func RequestCancel(svc request.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "request service unavailable"))
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

		updated, err := svc.Cancel(r.Context(), actor, requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, requestResponseFromModel(updated))
	}
}

// RequestList returns the tenant's requests, newest first, with cursor paging.
func RequestList(svc request.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "request service unavailable"))
			return
		}

		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := request.ListParams{
			TenantID: actor.TenantID,
			Pagination: pagination.Params{
				Limit:  limit,
				Cursor: r.URL.Query().Get("cursor"),
			},
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseRequestStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter"))
				return
			}
			params.Status = &status
		}

		page, err := svc.ListRequests(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]requestResponse, 0, len(page.Requests))
		for i := range page.Requests {
			items = append(items, requestResponseFromModel(&page.Requests[i]))
		}
		responses.WriteSuccess(w, requestListResponse{Requests: items, NextCursor: page.NextCursor})
	}
}

// RequestDetail returns one request scoped to the caller's tenant.
func RequestDetail(svc request.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "request service unavailable"))
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

		row, err := svc.GetRequest(r.Context(), actor.TenantID, requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, requestResponseFromModel(row))
	}
}

// RequestTimeline returns the event history for one request.
func RequestTimeline(svc request.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "request service unavailable"))
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

		entries, err := svc.GetTimeline(r.Context(), actor.TenantID, requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]timelineEntryResponse, 0, len(entries))
		for i := range entries {
			items = append(items, timelineEntryFromModel(entries[i]))
		}
		responses.WriteSuccess(w, timelineResponse{RequestID: requestID, Entries: items})
	}
}

type requestResponse struct {
	RequestID      uuid.UUID           `json:"request_id"`
	RequesterID    uuid.UUID           `json:"requester_id"`
	RequesterName  string              `json:"requester_name"`
	ProjectName    string              `json:"project_name"`
	VMName         string              `json:"vm_name"`
	Size           enums.VMSize        `json:"size"`
	Status         enums.RequestStatus `json:"status"`
	Justification  string              `json:"justification"`
	DecidedBy      *uuid.UUID          `json:"decided_by,omitempty"`
	DecisionReason *string             `json:"decision_reason,omitempty"`
	Degraded       bool                `json:"degraded"`
	Version        int64               `json:"version"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func requestResponseFromModel(m *models.RequestProjection) requestResponse {
	return requestResponse{
		RequestID:      m.RequestID,
		RequesterID:    m.RequesterID,
		RequesterName:  m.RequesterName,
		ProjectName:    m.ProjectName,
		VMName:         m.VMName,
		Size:           m.Size,
		Status:         m.Status,
		Justification:  m.Justification,
		DecidedBy:      m.DecidedBy,
		DecisionReason: m.DecisionReason,
		Degraded:       m.Degraded,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type requestListResponse struct {
	Requests   []requestResponse `json:"requests"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type timelineEntryResponse struct {
	EventID    uuid.UUID       `json:"event_id"`
	EventType  enums.EventType `json:"event_type"`
	ActorID    uuid.UUID       `json:"actor_id"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func timelineEntryFromModel(m models.TimelineEntry) timelineEntryResponse {
	return timelineEntryResponse{
		EventID:    m.EventID,
		EventType:  m.EventType,
		ActorID:    m.ActorID,
		OccurredAt: m.OccurredAt,
	}
}

type timelineResponse struct {
	RequestID uuid.UUID               `json:"request_id"`
	Entries   []timelineEntryResponse `json:"entries"`
}
