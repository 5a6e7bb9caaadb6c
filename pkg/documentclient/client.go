/**
 * @description
 * Client for the external document service that renders and stores numbered documents.
 */
package documentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/immotopia/rental-finance-service/internal/domain"
)

// Client is a client for the document service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new document service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Render asks the document service to produce the document and returns where it was stored.
func (c *Client) Render(ctx context.Context, req domain.RenderRequest) (*domain.RenderResult, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("document service url is not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/render", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", req.TenantID)
	if c.apiKey != "" {
		httpReq.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("document service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result domain.RenderResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse render response: %w", err)
	}
	if result.FileRef == "" {
		return nil, fmt.Errorf("document service returned no file reference")
	}
	return &result, nil
}
