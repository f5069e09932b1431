// Package generator defines the contract with the external content generator
// service. Drover never produces plan/story/document content itself: stage
// processors assemble a request, call the generator, and validate whatever
// comes back before allowing a handoff.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/pkg/board"
)

// Request carries everything the generator needs to produce structured
// content for one work item.
type Request struct {
	AgentType    string          `json:"agent_type"`
	Instructions string          `json:"instructions"`
	Item         *board.WorkItem `json:"item"`
	Context      map[string]any  `json:"context,omitempty"`
}

// Generator produces structured content for a work item. Implementations
// return raw JSON; the calling stage processor parses and validates it.
type Generator interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

// HTTPClient is the shipped Generator implementation: a JSON-over-HTTP client
// for a generation service. The response body must be a JSON object with an
// "output" field containing the generated content.
type HTTPClient struct {
	endpoint string
	token    string
	httpc    *http.Client
}

// NewHTTPClient creates a generator client from configuration. The bearer
// token is read from the environment variable named by api_key_env, if any.
func NewHTTPClient(cfg *config.GeneratorConfig) *HTTPClient {
	token := ""
	if cfg.APIKeyEnv != "" {
		token = os.Getenv(cfg.APIKeyEnv)
	}

	return &HTTPClient{
		endpoint: cfg.Endpoint,
		token:    token,
		httpc: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		},
	}
}

// generateResponse is the wire format of a successful generation call.
type generateResponse struct {
	Output json.RawMessage `json:"output"`
}

// Generate posts the request to the generation service and returns the raw
// output payload. Any non-2xx response is an error.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("generate call returned %d: %s", resp.StatusCode, snippet)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode generate response: %w", err)
	}

	if len(decoded.Output) == 0 {
		return nil, fmt.Errorf("generate response has no output")
	}

	return decoded.Output, nil
}
