package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/docscan/internal/middleware"
)

// RegisterRoutes mounts the API on app. History routes are only mounted when
// a run store is configured.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get("/health", h.Health)

	workspace := middleware.RequestWorkspace(h.cfg.WorkspaceDir)
	app.Post("/process-document", workspace, h.ProcessDocument)
	app.Post("/process-document-json", workspace, h.ProcessDocumentJSON)

	if h.runs != nil {
		runs := app.Group("/runs")
		runs.Get("/", h.ListRuns)
		runs.Get("/:id", h.GetRun)
	}
}
