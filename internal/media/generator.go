// ABOUTME: Image generation collaborator for agent thumbnails
// ABOUTME: HTTP client posting an agent descriptor to an external image service

package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AgentDescriptor is what the image service needs to draw a thumbnail.
type AgentDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ImageGenerator produces a thumbnail image for an agent.
type ImageGenerator interface {
	Generate(ctx context.Context, descriptor AgentDescriptor) ([]byte, error)
}

// HTTPImageGenerator calls an external image-generation service over HTTP.
type HTTPImageGenerator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPImageGenerator creates a generator for the given service endpoint.
func NewHTTPImageGenerator(endpoint string) *HTTPImageGenerator {
	return &HTTPImageGenerator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Generate posts the descriptor and returns the raw image bytes.
func (g *HTTPImageGenerator) Generate(ctx context.Context, descriptor AgentDescriptor) ([]byte, error) {
	body, err := json.Marshal(descriptor)
	if err != nil {
		return nil, fmt.Errorf("encoding image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling image service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image service returned status %d", resp.StatusCode)
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading image response: %w", err)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image service returned empty body")
	}
	return image, nil
}

var _ ImageGenerator = (*HTTPImageGenerator)(nil)
