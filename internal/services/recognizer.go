package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/models"
)

// Pipeline backend selectors
const (
	BackendVLLMServer = "vllm-server"
	BackendTesseract  = "tesseract"
)

// Recognizer turns one page image into markdown/text
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, image []byte, mediaType string, task models.Task) (string, error)
}

// VLRecognizer delegates recognition to a remote vision-language server
type VLRecognizer struct {
	client Completer
}

// NewVLRecognizer creates a recognizer backed by a chat-completions client
func NewVLRecognizer(client Completer) *VLRecognizer {
	return &VLRecognizer{client: client}
}

func (r *VLRecognizer) Name() string { return BackendVLLMServer }

func (r *VLRecognizer) Recognize(ctx context.Context, image []byte, mediaType string, task models.Task) (string, error) {
	return r.client.Complete(ctx, models.Payload{
		Kind: models.ContentImage,
		Parts: []models.ContentPart{
			{Type: models.PartImageURL, ImageURL: &models.ImageURL{URL: DataURL(mediaType, image)}},
			{Type: models.PartText, Text: task.Prompt()},
		},
	})
}

// RecognizerOptions configures NewRecognizer
type RecognizerOptions struct {
	Backend           string
	ServerURL         string
	APIKey            string
	Model             string
	Timeout           time.Duration
	TesseractLanguage string
}

// NewRecognizer builds the recognizer for a backend selector
func NewRecognizer(opts RecognizerOptions) (Recognizer, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendVLLMServer, "":
		if opts.ServerURL == "" {
			return nil, apperr.New(apperr.InvalidInput, "new recognizer", "backend URL is required for vllm-server")
		}
		return NewVLRecognizer(NewChatClient(opts.ServerURL, opts.APIKey, opts.Model, opts.Timeout)), nil
	case BackendTesseract:
		rec, err := NewTesseractRecognizer(opts.TesseractLanguage)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "new recognizer", err)
		}
		return rec, nil
	default:
		return nil, apperr.New(apperr.InvalidInput, "new recognizer",
			fmt.Sprintf("unknown backend %q (supported: %s, %s)", opts.Backend, BackendVLLMServer, BackendTesseract))
	}
}
