package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dcmlabs/dvmm-backend/api/controllers"
	"github.com/dcmlabs/dvmm-backend/api/middleware"
	"github.com/dcmlabs/dvmm-backend/internal/request"
	"github.com/dcmlabs/dvmm-backend/internal/resource"
	"github.com/dcmlabs/dvmm-backend/pkg/config"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	deps controllers.Dependencies,
	requestService request.Service,
	resourceService resource.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", controllers.RequestSubmit(requestService, logg))
			r.Get("/", controllers.RequestList(requestService, logg))
			r.Route("/{requestId}", func(r chi.Router) {
				r.Get("/", controllers.RequestDetail(requestService, logg))
				r.Get("/timeline", controllers.RequestTimeline(requestService, logg))
				r.Get("/resource", controllers.RequestResource(resourceService, logg))
				r.Post("/cancel", controllers.RequestCancel(requestService, logg))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(logg, string(enums.RoleApprover), string(enums.RoleAdmin)))
					r.Post("/approve", controllers.RequestApprove(requestService, logg))
					r.Post("/reject", controllers.RequestReject(requestService, logg))
				})
			})
		})

		r.Route("/resources", func(r chi.Router) {
			r.Get("/{resourceId}/progress", controllers.ResourceProgress(resourceService, logg))
		})
	})

	return r
}
