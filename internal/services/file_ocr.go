package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/foxxcyber/docscan/internal/models"
)

// Completer issues one chat-completion call for one payload
type Completer interface {
	Complete(ctx context.Context, payload models.Payload) (string, error)
}

// FileOCR sends a local file to the chat endpoint, one call per payload
type FileOCR struct {
	builder *RequestBuilder
	client  Completer
}

// NewFileOCR creates a file OCR service
func NewFileOCR(builder *RequestBuilder, client Completer) *FileOCR {
	return &FileOCR{
		builder: builder,
		client:  client,
	}
}

// Extract builds the payloads for path and returns the generated text. The
// outputs of multi-page documents are joined with blank lines in page order.
func (s *FileOCR) Extract(ctx context.Context, path string, task models.Task) (string, error) {
	payloads, err := s.builder.Build(ctx, path, task)
	if err != nil {
		return "", err
	}

	outputs := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		if len(payloads) > 1 {
			log.Printf("Processing page %d/%d", payload.Page+1, len(payloads))
		}
		text, err := s.client.Complete(ctx, payload)
		if err != nil {
			if len(payloads) > 1 {
				return "", fmt.Errorf("page %d: %w", payload.Page+1, err)
			}
			return "", err
		}
		outputs = append(outputs, strings.TrimSpace(text))
	}
	return strings.Join(outputs, "\n\n"), nil
}
