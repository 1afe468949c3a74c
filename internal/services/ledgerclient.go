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

	"github.com/evrydayimruslin/ultralight/internal/config"
)

// HTTPLedgerClient implements LedgerService against the platform ledger.
// The ledger performs the debit/credit atomically on its side; this client
// only translates the HTTP contract: 200 means transferred, 402 means
// insufficient balance, anything else is a transport failure.
type HTTPLedgerClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPLedgerClient creates a ledger client from config.
func NewHTTPLedgerClient(cfg *config.LedgerConfig, logger *slog.Logger) *HTTPLedgerClient {
	return &HTTPLedgerClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		logger:     logger,
	}
}

var _ LedgerService = (*HTTPLedgerClient)(nil)

type transferRequest struct {
	FromUser    string `json:"fromUser"`
	ToUser      string `json:"toUser"`
	AmountCents int64  `json:"amountCents"`
}

type transferResponse struct {
	FromBalance int64 `json:"fromBalance"`
	ToBalance   int64 `json:"toBalance"`
}

func (c *HTTPLedgerClient) Transfer(ctx context.Context, fromUser, toUser string, amountCents int64) (*Balances, bool, error) {
	body, err := json.Marshal(transferRequest{
		FromUser:    fromUser,
		ToUser:      toUser,
		AmountCents: amountCents,
	})
	if err != nil {
		return nil, false, fmt.Errorf("encoding transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("calling ledger: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, false, nil

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("ledger returned %d: %s", resp.StatusCode, string(respBody))
	}

	var tr transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, false, fmt.Errorf("decoding transfer response: %w", err)
	}

	c.logger.InfoContext(ctx, "ledger transfer completed",
		slog.String("from", fromUser),
		slog.String("to", toUser),
		slog.Int64("amount_cents", amountCents),
	)
	return &Balances{From: tr.FromBalance, To: tr.ToBalance}, true, nil
}
