package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Appointments Appointments
	Affiliations Affiliations
	Verifier     TokenVerifier
	Health       *HealthHandler
	Metrics      http.Handler
	Logger       *zap.Logger
	Location     *time.Location
	ServiceName  string
	// Heartbeat is the idle interval between SSE keep-alive comments.
	Heartbeat time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	h := &Handlers{
		appts:        cfg.Appointments,
		affiliations: cfg.Affiliations,
		logger:       logger,
		loc:          loc,
		heartbeat:    cfg.Heartbeat,
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TracingMiddleware(cfg.ServiceName))
	r.Use(RecoverMiddleware(logger))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.Verifier))

		r.Get("/slots", h.availableSlots)
		r.Post("/walk-ins", h.registerWalkIn)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.bookAppointment)
			r.Get("/{id}", h.getAppointment)
			r.Post("/{id}/cancel", h.cancelAppointment)
			r.Post("/{id}/check-in", h.checkIn)
			r.Post("/{id}/actions", h.queueAction)
			r.Patch("/{id}/vitals", h.updateVitals)
			r.Put("/{id}/payment", h.updatePayment)
		})

		r.Route("/queues/{facility}/{doctor}", func(r chi.Router) {
			r.Get("/", h.getQueue)
			r.Get("/stream", h.streamQueue)
			r.Put("/status", h.setQueueStatus)
		})

		r.Route("/affiliations", func(r chi.Router) {
			r.Post("/", h.requestAffiliation)
			r.Get("/{id}", h.getAffiliation)
			r.Post("/{id}/respond", h.respondAffiliation)
			r.Post("/{id}/revoke", h.revokeAffiliation)
			r.Put("/{id}/schedule", h.updateSchedule)
		})
	})

	return r
}
