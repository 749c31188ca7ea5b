package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ignite/lifecycle-engine/internal/config"
)

// SetupRoutes builds the HTTP router. /health is open; everything under
// /api requires cfg.APIToken as a bearer token when one is configured.
func SetupRoutes(h *Handlers, cfg config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		if cfg.APIToken != "" {
			r.Use(requireToken(cfg.APIToken))
		}

		r.Route("/customers/{id}", func(r chi.Router) {
			r.Get("/", h.GetCustomer)
			r.Patch("/contact", h.UpdateContact)

			r.Post("/interactions", h.RecordInteraction)
			r.Post("/engagement", h.RecalculateEngagement)

			r.Post("/stage", h.Transition)
			r.Post("/trial", h.AcceptTrial)
			r.Post("/conversion", h.Convert)
			r.Post("/churn", h.Churn)

			r.Get("/timelines", h.ListTimelines)
			r.Post("/timelines", h.StartTimeline)
			r.Post("/timelines/pause", h.PauseCustomer)
			r.Post("/timelines/resume", h.ResumeCustomer)
			r.Post("/process", h.ProcessCustomer)

			r.Get("/persona", h.GetPersona)
			r.Put("/persona", h.AssignPersona)

			r.Get("/followups", h.ListFollowups)
			r.Post("/dialogs", h.StartDialog)
		})

		r.Post("/progress/{id}/pause", h.PauseProgress)
		r.Post("/progress/{id}/resume", h.ResumeProgress)

		r.Get("/dialogs/{id}", h.GetDialog)
		r.Post("/dialogs/{id}/responses", h.RespondDialog)

		r.Post("/sweeps", h.Sweep)
	})

	return r
}

func requireToken(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			got, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
