// Package embed is the HTTP client behind the search_vector_text tool.
// It speaks the OpenAI-compatible /v1/embeddings shape, which Ollama and
// most local servers also expose.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config selects the embedding endpoint and model.
type Config struct {
	// APIURL is the base URL, e.g. http://localhost:11434.
	APIURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Model is the model name from the embedding_model option.
	Model string
	// Timeout bounds one request.
	Timeout time.Duration
}

// Client fetches embeddings over HTTP. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a client. Zero fields get working defaults.
func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed fetches one embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding request: status %d: %s", resp.StatusCode, msg)
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embedding response: %w", err)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response: empty")
	}
	return decoded.Data[0].Embedding, nil
}
