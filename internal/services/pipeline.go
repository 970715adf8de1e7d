package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/config"
	"github.com/foxxcyber/docscan/internal/models"
)

// Pipeline is a multi-page OCR pipeline
type Pipeline interface {
	// Predict returns one result per page, in page order
	Predict(ctx context.Context, inputPath string) ([]models.PageResult, error)
	ConcatenateMarkdownPages(pages []models.MarkdownPage) string
}

// VLPipelineOptions configures a VLPipeline
type VLPipelineOptions struct {
	Task        models.Task
	PageWorkers int
	ScratchDir  string
}

// VLPipeline renders documents into page images and recognizes each page
type VLPipeline struct {
	recognizer  Recognizer
	renderer    PageRenderer
	task        models.Task
	pageWorkers int
	scratchDir  string
}

// NewVLPipeline creates a pipeline over a recognizer backend
func NewVLPipeline(recognizer Recognizer, renderer PageRenderer, opts VLPipelineOptions) *VLPipeline {
	if opts.Task == "" {
		opts.Task = models.TaskOCR
	}
	if opts.PageWorkers <= 0 {
		opts.PageWorkers = 1
	}
	return &VLPipeline{
		recognizer:  recognizer,
		renderer:    renderer,
		task:        opts.Task,
		pageWorkers: opts.PageWorkers,
		scratchDir:  opts.ScratchDir,
	}
}

// NewPipelineFromConfig builds the configured backend and pipeline
func NewPipelineFromConfig(cfg *config.Config) (*VLPipeline, error) {
	task, err := models.ParseTask(cfg.VLTask)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "new pipeline", err)
	}

	recognizer, err := NewRecognizer(RecognizerOptions{
		Backend:           cfg.PipelineBackend,
		ServerURL:         cfg.PipelineServerURL,
		APIKey:            cfg.VLAPIKey,
		Model:             cfg.VLModel,
		Timeout:           cfg.VLRequestTimeout,
		TesseractLanguage: cfg.TesseractLanguage,
	})
	if err != nil {
		return nil, err
	}

	return NewVLPipeline(recognizer, NewPopplerRenderer(cfg.PDFDPI), VLPipelineOptions{
		Task:        task,
		PageWorkers: cfg.PageWorkers,
	}), nil
}

func (p *VLPipeline) Predict(ctx context.Context, inputPath string) ([]models.PageResult, error) {
	mt, err := mimetype.DetectFile(inputPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "predict", err)
	}

	var pages []string
	switch {
	case mt.Is("application/pdf"):
		workDir, err := os.MkdirTemp(p.scratchDir, "pages-*")
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "predict", fmt.Errorf("failed to create scratch dir: %w", err))
		}
		defer os.RemoveAll(workDir)

		pages, err = p.renderer.Render(ctx, inputPath, workDir)
		if err != nil {
			return nil, err
		}
	case strings.HasPrefix(mt.String(), "image/"):
		pages = []string{inputPath}
	default:
		return nil, apperr.New(apperr.InvalidInput, "predict",
			fmt.Sprintf("unsupported document type %s: expected a PDF or an image", mt.String()))
	}

	results := make([]models.PageResult, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.pageWorkers)
	for i, pagePath := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			page, err := p.recognizePage(gctx, i, pagePath)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			results[i] = models.PageResult{Index: i, Markdown: page}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *VLPipeline) recognizePage(ctx context.Context, index int, pagePath string) (models.MarkdownPage, error) {
	data, err := os.ReadFile(pagePath)
	if err != nil {
		return models.MarkdownPage{}, apperr.Wrap(apperr.Internal, "read page", err)
	}

	raw, err := p.recognizer.Recognize(ctx, data, DetectMediaType(pagePath, data), p.task)
	if err != nil {
		return models.MarkdownPage{}, err
	}
	if strings.TrimSpace(raw) == "" {
		log.Printf("Notice: empty recognition output for page %d (%s)", index+1, p.recognizer.Name())
	}
	return BuildMarkdownPage(raw, data, index)
}

func (p *VLPipeline) ConcatenateMarkdownPages(pages []models.MarkdownPage) string {
	return ConcatenateMarkdownPages(pages)
}

// Close releases the recognizer backend
func (p *VLPipeline) Close() error {
	if c, ok := p.recognizer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SharedPipeline lets concurrent requests use one pipeline instance, with at
// most limit predictions in flight.
type SharedPipeline struct {
	inner Pipeline
	sem   *semaphore.Weighted
}

// NewSharedPipeline wraps inner. A limit below one is treated as one.
func NewSharedPipeline(inner Pipeline, limit int) *SharedPipeline {
	if limit < 1 {
		limit = 1
	}
	return &SharedPipeline{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(limit)),
	}
}

func (s *SharedPipeline) Predict(ctx context.Context, inputPath string) ([]models.PageResult, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "predict", fmt.Errorf("waiting for pipeline: %w", err))
	}
	defer s.sem.Release(1)
	return s.inner.Predict(ctx, inputPath)
}

func (s *SharedPipeline) ConcatenateMarkdownPages(pages []models.MarkdownPage) string {
	return s.inner.ConcatenateMarkdownPages(pages)
}
