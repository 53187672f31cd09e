package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/llm-proxy/app"
	"github.com/upb/llm-proxy/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware. No Timeout middleware here: streaming responses
	// outlive any sane fixed deadline, the server write timeout bounds
	// the rest.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	chatHandler := handlers.NewChatHandler(deps.Executor, deps.Sessions, deps.Logger)
	pipelinesHandler := handlers.NewPipelinesHandler(deps.Balancer, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck())
	r.Get("/readyz", handlers.ReadinessCheck(deps.Balancer))

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", chatHandler.HandleChatCompletion)
		r.Get("/pipelines", pipelinesHandler.HandleListPipelines)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"Route not found"}`))
	})

	return r
}
