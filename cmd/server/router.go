package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tilegrid/procserve/internal/api"
)

// setupRouter configures all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	handler := api.NewHandler(app.manager, app.logger)

	r.Get("/", handler.Landing)
	r.Get("/conformance", handler.GetConformance)
	r.Get("/processes", handler.ListProcesses)
	r.Get("/processes/{processID}", handler.DescribeProcess)
	r.Post("/processes/{processID}/execution", handler.ExecuteProcess)
	r.Get("/jobs", handler.ListJobs)
	r.Get("/jobs/{jobID}", handler.GetJobStatus)
	r.Get("/jobs/{jobID}/results", handler.GetJobResult)
	r.Delete("/jobs/{jobID}", handler.DismissJob)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
