package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/config"
	"github.com/foxxcyber/docscan/internal/models"
	"github.com/foxxcyber/docscan/internal/services"
)

// RunStore persists processing history
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	GetRunByID(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, params models.RunListParams) ([]models.Run, int, error)
}

// Archiver uploads the outputs of a run
type Archiver interface {
	ArchiveRun(ctx context.Context, runID, markdownName, markdown, imagesRoot string, imagePaths []string) (*services.ArchiveResult, error)
}

// Handler holds all handler dependencies
type Handler struct {
	cfg       *config.Config
	processor *services.DocumentProcessor
	runs      RunStore
	archive   Archiver
}

// New creates a new Handler instance around a shared pipeline
func New(cfg *config.Config, pipeline services.Pipeline) *Handler {
	return &Handler{
		cfg:       cfg,
		processor: services.NewDocumentProcessor(pipeline),
	}
}

// WithRunStore enables run history
func (h *Handler) WithRunStore(runs RunStore) *Handler {
	h.runs = runs
	return h
}

// WithArchiver enables uploading run outputs
func (h *Handler) WithArchiver(archive Archiver) *Handler {
	h.archive = archive
	return h
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ErrorHandler is a custom error handler for Fiber
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	resp := ErrorResponse{Error: "Internal Server Error", Kind: string(apperr.Internal)}

	var fe *fiber.Error
	var ae *apperr.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		resp = ErrorResponse{Error: fe.Message}
	case errors.As(err, &ae):
		code = apperr.HTTPStatus(ae.Kind)
		resp = ErrorResponse{Error: err.Error(), Kind: string(ae.Kind)}
	}

	return c.Status(code).JSON(resp)
}

// APIResponse is a standard API response structure
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata
type Meta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Success returns a successful response
func Success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
	})
}

// SuccessWithMeta returns a successful response with pagination
func SuccessWithMeta(c *fiber.Ctx, data interface{}, total, limit, offset int) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
		Meta: &Meta{
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	})
}

// Error returns an error response
func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   message,
	})
}

// ProcessingError maps a failed processing request to its status and body
func ProcessingError(c *fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)
	return c.Status(apperr.HTTPStatus(kind)).JSON(ErrorResponse{
		Error: "Processing error: " + err.Error(),
		Kind:  string(kind),
	})
}
