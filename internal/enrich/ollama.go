// Package enrich produces AI-derived annotations (descriptions, keywords,
// OCR text, embeddings) for text and keyframe images via the Ollama HTTP API.
package enrich

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// ServiceError represents a failed call to the model service.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("model service unreachable: %s", e.Body)
	}
	return fmt.Sprintf("model service error: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and network errors.
// Client errors (4xx) are considered permanent.
func (e *ServiceError) IsRetryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// Client is a thin wrapper around the Ollama REST interface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type embeddingsRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
}

type embeddingsResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Generate sends a prompt (optionally with base64 images) and returns the
// generated text.
func (c *Client) Generate(ctx context.Context, model, prompt string, images []string, temperature float64, maxTokens int) (string, error) {
	req := generateRequest{
		Model:  model,
		Prompt: prompt,
		Images: images,
		Stream: false,
		Options: map[string]any{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}
	var resp generateResponse
	if err := c.post(ctx, "/api/generate", req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// EmbedText returns a fixed-dimension vector for the given text.
func (c *Client) EmbedText(ctx context.Context, model, text string) ([]float32, error) {
	var resp embeddingsResponse
	if err := c.post(ctx, "/api/embeddings", embeddingsRequest{Model: model, Prompt: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Body: "empty embedding in response"}
	}
	return resp.Embedding, nil
}

// EmbedImage returns a vector for the image at the given path.
func (c *Client) EmbedImage(ctx context.Context, model, imagePath string) ([]float32, error) {
	data, err := encodeImage(imagePath)
	if err != nil {
		return nil, err
	}
	var resp embeddingsResponse
	if err := c.post(ctx, "/api/embeddings", embeddingsRequest{Model: model, Images: []string{data}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Body: "empty embedding in response"}
	}
	return resp.Embedding, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ServiceError{StatusCode: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if c.logger != nil {
		c.logger.Debug("ollama call",
			"path", path,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServiceError{StatusCode: resp.StatusCode, Body: tail(string(respBody), 512)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// A missing keyframe file cannot be fixed by retrying.
		return "", &ServiceError{StatusCode: http.StatusBadRequest, Body: err.Error()}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func tail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}
