// Package ollama adapts an Ollama server to the extraction and embedding
// backends.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/refset/civic-intake/internal/extraction"
)

// Client talks to one Ollama server.
type Client struct {
	api            *api.Client
	model          string
	translateModel string
	embedModel     string
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, model, translateModel, embedModel string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL %q: %w", baseURL, err)
	}
	if translateModel == "" {
		translateModel = model
	}
	return &Client{
		api:            api.NewClient(u, &http.Client{Timeout: timeout}),
		model:          model,
		translateModel: translateModel,
		embedModel:     embedModel,
	}, nil
}

// Generate runs the extraction prompt, asking the server for JSON output.
// Images are passed through; audio is not supported by Ollama models.
func (c *Client) Generate(ctx context.Context, prompt string, media *extraction.Media) (string, error) {
	req := &api.GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Format: json.RawMessage(`"json"`),
		Stream: new(bool),
	}
	if media != nil {
		if !strings.HasPrefix(media.MimeType, "image/") {
			return "", fmt.Errorf("%s: %w", media.MimeType, extraction.ErrUnsupportedMedia)
		}
		req.Images = []api.ImageData{media.Data}
	}
	return c.generate(ctx, req)
}

// Translate runs a free-text prompt on the translation model.
func (c *Client) Translate(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, &api.GenerateRequest{
		Model:  c.translateModel,
		Prompt: prompt,
		Stream: new(bool),
	})
}

func (c *Client) generate(ctx context.Context, req *api.GenerateRequest) (string, error) {
	var out strings.Builder
	err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Ollama generate (%s): %w", req.Model, err)
	}
	return strings.TrimSpace(out.String()), nil
}

// Embed returns the embedding model's vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  c.embedModel,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("Ollama embeddings (%s): %w", c.embedModel, err)
	}
	vector := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// Ping checks connectivity to the server.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return fmt.Errorf("Ollama ping failed: %w", err)
	}
	return nil
}
