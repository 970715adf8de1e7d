package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/models"
)

var extensionKinds = map[string]models.ContentKind{
	".png":  models.ContentImage,
	".jpg":  models.ContentImage,
	".jpeg": models.ContentImage,
	".bmp":  models.ContentImage,
	".webp": models.ContentImage,
	".gif":  models.ContentImage,
	".tif":  models.ContentImage,
	".tiff": models.ContentImage,
	".pdf":  models.ContentPDF,
	".txt":  models.ContentText,
	".csv":  models.ContentText,
	".md":   models.ContentText,
}

type contentHandler func(ctx context.Context, path string, task models.Task) ([]models.Payload, error)

// RequestBuilder turns a file into chat payloads, one handler per content kind
type RequestBuilder struct {
	renderer   PageRenderer
	scratchDir string
	handlers   map[models.ContentKind]contentHandler
}

// NewRequestBuilder creates a builder. PDF pages are rendered with renderer
// into throwaway directories under scratchDir (the OS temp dir when empty).
func NewRequestBuilder(renderer PageRenderer, scratchDir string) *RequestBuilder {
	b := &RequestBuilder{
		renderer:   renderer,
		scratchDir: scratchDir,
	}
	b.handlers = map[models.ContentKind]contentHandler{
		models.ContentImage: b.buildImage,
		models.ContentPDF:   b.buildPDF,
		models.ContentText:  b.buildText,
	}
	return b
}

// SupportedExtensions lists the extensions with a registered content kind
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionKinds))
	for ext := range extensionKinds {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Kind resolves the content kind of path from its extension, falling back to
// content sniffing for images with unusual extensions.
func (b *RequestBuilder) Kind(path string) (models.ContentKind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := extensionKinds[ext]; ok {
		return kind, nil
	}

	if mt, err := mimetype.DetectFile(path); err == nil && strings.HasPrefix(mt.String(), "image/") {
		return models.ContentImage, nil
	}

	if ext == "" {
		ext = "(none)"
	}
	return "", apperr.New(apperr.InvalidInput, "build request",
		fmt.Sprintf("unsupported file type: %s. Supported: PNG, JPG, BMP, WebP, GIF, TIFF, PDF, TXT, CSV, MD", ext))
}

// Build produces the payloads for path. Images and text files yield one
// payload; PDFs yield one image payload per page.
func (b *RequestBuilder) Build(ctx context.Context, path string, task models.Task) ([]models.Payload, error) {
	if task.Prompt() == "" {
		return nil, apperr.New(apperr.InvalidInput, "build request", fmt.Sprintf("unknown task %q", task))
	}

	kind, err := b.Kind(path)
	if err != nil {
		return nil, err
	}

	handler, ok := b.handlers[kind]
	if !ok {
		return nil, apperr.New(apperr.Internal, "build request", fmt.Sprintf("no handler for %s content", kind))
	}
	return handler(ctx, path, task)
}

func (b *RequestBuilder) buildImage(_ context.Context, path string, task models.Task) ([]models.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "read image", err)
	}
	return []models.Payload{imagePayload(path, 0, data, task)}, nil
}

func (b *RequestBuilder) buildPDF(ctx context.Context, path string, task models.Task) ([]models.Payload, error) {
	if b.renderer == nil {
		return nil, apperr.New(apperr.Internal, "build request", "no PDF renderer configured")
	}

	workDir, err := os.MkdirTemp(b.scratchDir, "pages-*")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "build request", fmt.Errorf("failed to create scratch dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	pages, err := b.renderer.Render(ctx, path, workDir)
	if err != nil {
		return nil, err
	}

	payloads := make([]models.Payload, 0, len(pages))
	for i, page := range pages {
		data, err := os.ReadFile(page)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "read rendered page", err)
		}
		p := imagePayload(path, i, data, task)
		p.Kind = models.ContentPDF
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func (b *RequestBuilder) buildText(_ context.Context, path string, _ models.Task) ([]models.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "read text file", err)
	}
	if !utf8.Valid(data) {
		return nil, apperr.New(apperr.InvalidInput, "read text file", "file is not valid UTF-8")
	}

	text := fmt.Sprintf("Please process the following text content from the file '%s':\n\n%s", filepath.Base(path), data)
	return []models.Payload{{
		Source: path,
		Kind:   models.ContentText,
		Parts:  []models.ContentPart{{Type: models.PartText, Text: text}},
	}}, nil
}

func imagePayload(source string, page int, data []byte, task models.Task) models.Payload {
	return models.Payload{
		Source: source,
		Kind:   models.ContentImage,
		Page:   page,
		Parts: []models.ContentPart{
			{
				Type:     models.PartImageURL,
				ImageURL: &models.ImageURL{URL: DataURL(DetectMediaType(source, data), data)},
			},
			{Type: models.PartText, Text: task.Prompt()},
		},
	}
}

// DetectMediaType sniffs the media type of image bytes, falling back to the
// type registered for the file extension.
func DetectMediaType(path string, data []byte) string {
	if mt := mimetype.Detect(data); strings.HasPrefix(mt.String(), "image/") {
		return mt.String()
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	return "application/octet-stream"
}

// DataURL encodes data as an inline data URL
func DataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
