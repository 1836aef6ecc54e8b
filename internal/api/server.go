package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shehryarbajwa/detox/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(subscribe http.HandlerFunc, rateLimiter *ratelimit.Limiter, trustProxy bool) *mux.Router {
	r := mux.NewRouter()

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Starting a run launches a browser, so it is rate limited
	rateLimitedAPI := api.PathPrefix("").Subrouter()
	rateLimitedAPI.Use(RateLimitMiddleware(rateLimiter, trustProxy))
	rateLimitedAPI.HandleFunc("/detox", h.StartDetox).Methods("POST", "OPTIONS")

	api.HandleFunc("/events", subscribe).Methods("GET")
	api.HandleFunc("/runs", h.ListRuns).Methods("GET")

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// CORS middleware
	r.Use(corsMiddleware)

	return r
}
