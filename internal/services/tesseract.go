//go:build !windows

package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/models"
)

// TesseractRecognizer runs recognition locally with Tesseract
type TesseractRecognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseractRecognizer creates a local recognizer for the given language
func NewTesseractRecognizer(language string) (*TesseractRecognizer, error) {
	if language == "" {
		language = "eng"
	}

	client := gosseract.NewClient()

	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// PSM 3 = fully automatic page segmentation, documents rather than single blocks
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	return &TesseractRecognizer{
		client: client,
	}, nil
}

func (r *TesseractRecognizer) Name() string { return BackendTesseract }

// Recognize extracts plain text from a page image. The task is ignored:
// Tesseract has no table, formula, or chart modes.
func (r *TesseractRecognizer) Recognize(ctx context.Context, image []byte, _ string, _ models.Task) (string, error) {
	const op = "tesseract"

	if err := ctx.Err(); err != nil {
		return "", apperr.Wrap(apperr.Internal, op, err)
	}

	// gosseract clients are not safe for concurrent use
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.client.SetImageFromBytes(image); err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, op, fmt.Errorf("failed to set image: %w", err))
	}

	text, err := r.client.Text()
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, op, fmt.Errorf("failed to extract text: %w", err))
	}
	return text, nil
}

// Close releases OCR resources
func (r *TesseractRecognizer) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
