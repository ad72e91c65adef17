package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mir00r/subscriber-dbi/internal/middleware"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

// RouterOptions collects what the admin router is built from. RateLimiter
// and JWT may be nil.
type RouterOptions struct {
	Admin       *AdminHandler
	Health      *HealthHandler
	RateLimiter *middleware.RateLimiter
	JWT         *middleware.JWTAuthMiddleware
	Logger      *logger.Logger
}

// NewRouter wires the health probes and the /api/v1 admin routes
func NewRouter(opts RouterOptions) http.Handler {
	log := logger.OrNop(opts.Logger)

	router := mux.NewRouter()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggingMiddleware(log))
	router.Use(middleware.SecurityHeadersMiddleware())
	if opts.RateLimiter != nil {
		router.Use(opts.RateLimiter.RateLimitMiddleware())
	}

	router.HandleFunc("/health/live", opts.Health.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", opts.Health.ReadinessHandler).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(opts.JWT.JWTAuth())

	h := opts.Admin
	api.HandleFunc("/interface", h.GetInterfaceHandler).Methods(http.MethodGet)
	api.HandleFunc("/interface", h.SelectInterfaceHandler).Methods(http.MethodPut)
	api.HandleFunc("/interface", h.DeselectInterfaceHandler).Methods(http.MethodDelete)
	api.HandleFunc("/teardown", h.TeardownHandler).Methods(http.MethodPost)

	api.HandleFunc("/apns", h.ListAPNsHandler).Methods(http.MethodGet)
	api.HandleFunc("/apns", h.LoadAPNHandler).Methods(http.MethodPost)

	api.HandleFunc("/sessions", h.SessionHandler).Methods(http.MethodGet)
	api.HandleFunc("/msisdn/{id}", h.MsisdnHandler).Methods(http.MethodGet)
	api.HandleFunc("/subscribers/{supi}", h.SubscriptionHandler).Methods(http.MethodGet)
	api.HandleFunc("/subscribers/{supi}/ims", h.ImsHandler).Methods(http.MethodGet)
	api.HandleFunc("/subscribers/{supi}/sqn", h.UpdateSQNHandler).Methods(http.MethodPut)
	api.HandleFunc("/subscribers/{supi}/sqn/increment", h.IncrementSQNHandler).Methods(http.MethodPost)
	api.HandleFunc("/subscribers/{supi}/imeisv", h.UpdateIMEISVHandler).Methods(http.MethodPut)

	return router
}
