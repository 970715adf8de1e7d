package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/docscan/internal/database"
	"github.com/foxxcyber/docscan/internal/models"
)

// ListRuns returns processing history, newest first
func (h *Handler) ListRuns(c *fiber.Ctx) error {
	params := models.RunListParams{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}

	// Validate limits
	if params.Limit < 1 || params.Limit > 100 {
		params.Limit = 20
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	if status := c.Query("status"); status != "" {
		switch models.RunStatus(status) {
		case models.RunStatusCompleted, models.RunStatusFailed:
			params.Status = &status
		default:
			return Error(c, fiber.StatusBadRequest, "invalid status filter")
		}
	}

	runs, total, err := h.runs.ListRuns(c.Context(), params)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to list runs")
	}

	return SuccessWithMeta(c, runs, total, params.Limit, params.Offset)
}

// GetRun returns a single run by ID
func (h *Handler) GetRun(c *fiber.Ctx) error {
	run, err := h.runs.GetRunByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return Error(c, fiber.StatusNotFound, "run not found")
		}
		return Error(c, fiber.StatusInternalServerError, "failed to get run")
	}

	return Success(c, run)
}
