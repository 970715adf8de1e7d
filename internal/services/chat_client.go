package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/foxxcyber/docscan/internal/apperr"
	"github.com/foxxcyber/docscan/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChatClient calls an OpenAI-compatible chat-completions endpoint
type ChatClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type chatMessage struct {
	Role    string               `json:"role"`
	Content []models.ContentPart `json:"content"`
}

// Temperature carries no omitempty: zero must reach the server.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewChatClient creates a client with a single overall request timeout
func NewChatClient(baseURL, apiKey, model string, timeout time.Duration) *ChatClient {
	return &ChatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Model returns the model identifier sent with every request
func (c *ChatClient) Model() string {
	return c.model
}

// Complete sends one payload as a single user message and returns the generated text
func (c *ChatClient) Complete(ctx context.Context, payload models.Payload) (string, error) {
	const op = "chat completion"

	if len(payload.Parts) == 0 {
		return "", apperr.New(apperr.InvalidInput, op, "no content was prepared to be sent")
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: payload.Parts},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, op, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.UpstreamUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", apperr.Wrap(apperr.UpstreamError, op,
			fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(apperr.UpstreamError, op, fmt.Errorf("failed to decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.New(apperr.UpstreamError, op, "response contained no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
