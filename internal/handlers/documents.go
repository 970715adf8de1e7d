package handlers

import (
	"context"
	"fmt"
	"log"
	"mime"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/middleware"
	"github.com/foxxcyber/docscan/internal/models"
	"github.com/foxxcyber/docscan/internal/services"
)

const (
	serviceName = "PaddleOCR Processing API"
	uploadField = "file"
)

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// processedDocument is the outcome of one accepted upload
type processedDocument struct {
	stem       string
	runID      string
	archiveURL string
	result     *models.DocumentResult
}

// Health reports liveness without touching the pipeline
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "healthy", Service: serviceName})
}

// ProcessDocument returns the recognized document as a Markdown attachment,
// or as HTML with ?format=html
func (h *Handler) ProcessDocument(c *fiber.Ctx) error {
	format := strings.ToLower(c.Query("format", "markdown"))
	switch format {
	case "markdown", "md", "html":
	default:
		return apperr.New(apperr.InvalidInput, "process document", fmt.Sprintf("unsupported format %q: expected markdown or html", format))
	}

	file, name, err := acceptUpload(c)
	if err != nil {
		return err
	}

	doc, err := h.process(c, file, name)
	if err != nil {
		return ProcessingError(c, err)
	}

	if format == "html" {
		page, err := services.RenderHTML(doc.result.Markdown, doc.stem)
		if err != nil {
			return ProcessingError(c, apperr.Wrap(apperr.Internal, "render html", err))
		}
		c.Set(fiber.HeaderContentType, "text/html; charset=utf-8")
		c.Set(fiber.HeaderContentDisposition, attachment(doc.stem+".html"))
		return c.Send(page)
	}

	c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, attachment(doc.stem+".md"))
	return c.SendString(doc.result.Markdown)
}

// ProcessDocumentJSON returns the recognized document with its page and image counts
func (h *Handler) ProcessDocumentJSON(c *fiber.Ctx) error {
	file, name, err := acceptUpload(c)
	if err != nil {
		return err
	}

	doc, err := h.process(c, file, name)
	if err != nil {
		return ProcessingError(c, err)
	}

	return c.JSON(models.ProcessDocumentResponse{
		Filename:   doc.stem,
		Markdown:   doc.result.Markdown,
		PageCount:  doc.result.PageCount,
		ImageCount: doc.result.ImageCount,
		RunID:      doc.runID,
		ArchiveURL: doc.archiveURL,
	})
}

// acceptUpload validates the multipart upload before any workspace exists
func acceptUpload(c *fiber.Ctx) (*multipart.FileHeader, string, error) {
	file, err := c.FormFile(uploadField)
	if err != nil {
		return nil, "", apperr.New(apperr.InvalidInput, "upload", fmt.Sprintf("a file is required in the %q field", uploadField))
	}

	name := path.Base(strings.ReplaceAll(file.Filename, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return nil, "", apperr.New(apperr.InvalidInput, "upload", "the uploaded file has no usable filename")
	}
	return file, name, nil
}

func (h *Handler) process(c *fiber.Ctx, file *multipart.FileHeader, name string) (*processedDocument, error) {
	ws := middleware.GetWorkspace(c)
	if ws == nil {
		return nil, apperr.New(apperr.Internal, "process document", "request workspace is not configured")
	}
	dir, err := ws.Dir()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "process document", err)
	}

	inputDir := filepath.Join(dir, "input")
	outputDir := filepath.Join(dir, "output")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "process document", err)
	}
	inputPath := filepath.Join(inputDir, name)
	if err := c.SaveFile(file, inputPath); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "save upload", err)
	}

	ctx := c.Context()
	start := time.Now()
	run := &models.Run{
		ID:        uuid.NewString(),
		Filename:  name,
		SizeBytes: file.Size,
		Status:    models.RunStatusCompleted,
	}
	if h.runs != nil {
		if run.Fingerprint, err = services.FingerprintFile(inputPath); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "fingerprint upload", err)
		}
	}

	result, err := h.processor.Process(ctx, inputPath, outputDir)
	run.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		log.Printf("Processing %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
		h.recordRun(ctx, run, err)
		return nil, err
	}
	run.PageCount = result.PageCount
	run.ImageCount = result.ImageCount

	doc := &processedDocument{
		stem:   services.Stem(name),
		result: result,
	}

	if h.archive != nil {
		archived, err := h.archive.ArchiveRun(ctx, run.ID, doc.stem+".md", result.Markdown, outputDir, result.ImagePaths)
		if err != nil {
			log.Printf("Warning: Failed to archive run %s: %v", run.ID, err)
		} else {
			run.ArchiveKey = &archived.Key
			doc.archiveURL = archived.URL
		}
	}

	if h.recordRun(ctx, run, nil) {
		doc.runID = run.ID
	}

	log.Printf("Processed %s (%s) in %s: %d pages, %d images",
		name, humanize.Bytes(uint64(file.Size)), time.Since(start).Round(time.Millisecond),
		result.PageCount, result.ImageCount)

	return doc, nil
}

// recordRun stores the run when history is enabled and reports whether it was stored
func (h *Handler) recordRun(ctx context.Context, run *models.Run, procErr error) bool {
	if h.runs == nil {
		return false
	}
	if procErr != nil {
		kind := string(apperr.KindOf(procErr))
		message := procErr.Error()
		run.Status = models.RunStatusFailed
		run.ErrorKind = &kind
		run.ErrorMessage = &message
	}
	if err := h.runs.CreateRun(ctx, run); err != nil {
		log.Printf("Warning: Failed to record run %s: %v", run.ID, err)
		return false
	}
	return true
}

func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}
