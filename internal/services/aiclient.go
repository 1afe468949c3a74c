package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/evrydayimruslin/ultralight/internal/config"
)

// HTTPAIClient implements AIService against the platform's AI gateway.
// The gateway meters usage and reports the billed cost per call; the
// runtime only forwards the caller's API key and the request payload.
type HTTPAIClient struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewHTTPAIClient creates an AI client from config.
func NewHTTPAIClient(cfg *config.AIConfig, logger *slog.Logger) *HTTPAIClient {
	return &HTTPAIClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		httpClient:   &http.Client{Timeout: cfg.Timeout()},
		logger:       logger,
	}
}

var _ AIService = (*HTTPAIClient)(nil)

// Call POSTs the request to the gateway's generate endpoint.
func (c *HTTPAIClient) Call(ctx context.Context, req AIRequest, apiKey string) (*AIResponse, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding ai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating ai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling ai gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ai gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	var aiResp AIResponse
	if err := json.NewDecoder(resp.Body).Decode(&aiResp); err != nil {
		return nil, fmt.Errorf("decoding ai response: %w", err)
	}

	c.logger.DebugContext(ctx, "ai call completed",
		slog.String("model", aiResp.Model),
		slog.Float64("cost_cents", aiResp.Usage.CostCents),
		slog.Duration("duration", time.Since(start)),
	)
	return &aiResp, nil
}
