//go:build windows

package services

import (
	"context"
	"errors"

	"github.com/foxxcyber/docscan/internal/models"
)

// TesseractRecognizer is unavailable on Windows
type TesseractRecognizer struct{}

// NewTesseractRecognizer reports that the tesseract backend is not available on Windows
func NewTesseractRecognizer(language string) (*TesseractRecognizer, error) {
	return nil, errors.New("tesseract backend is not available on Windows - run in Docker container or use vllm-server")
}

func (r *TesseractRecognizer) Name() string { return BackendTesseract }

func (r *TesseractRecognizer) Recognize(ctx context.Context, image []byte, mediaType string, task models.Task) (string, error) {
	return "", errors.New("tesseract backend is not available on Windows")
}

// Close releases OCR resources
func (r *TesseractRecognizer) Close() error {
	return nil
}
