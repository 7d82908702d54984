package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"

	"contribapp/metrics"
	"contribapp/models"
)

const (
	contributePath   = "/contribute"
	maxResponseBytes = 1 << 20

	DefaultTimeout = 30 * time.Second
)

// Client submits contributions to the ledger service.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:        strings.TrimRight(baseURL, "/") + contributePath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit posts the payload on behalf of the caller identified by bearerToken and returns
// the ledger's acknowledgment as is. The call is made once; failures are reported as
// models.ErrLedgerUnavailable.
func (c *Client) Submit(ctx context.Context, payload models.ContributionPayload, bearerToken string) (json.RawMessage, error) {
	ack, err := c.submit(ctx, payload, bearerToken)
	if err != nil {
		metrics.LedgerSubmissionsTotal.WithLabelValues("failed").Inc()
		log.Errorf("Ledger submission for %s failed: %v", payload.MinerAddress, err)
		return nil, fmt.Errorf("%w: %v", models.ErrLedgerUnavailable, err)
	}
	metrics.LedgerSubmissionsTotal.WithLabelValues("ok").Inc()
	return ack, nil
}

func (c *Client) submit(ctx context.Context, payload models.ContributionPayload, bearerToken string) (json.RawMessage, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("ledger returned %s: %s", resp.Status, truncate(body, 256))
	}

	log.Infof("Ledger accepted contribution from %s, status: %v", payload.MinerAddress, resp.Status)
	return acknowledgment(body), nil
}

// acknowledgment keeps a JSON body verbatim and wraps anything else in a JSON string.
func acknowledgment(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(string(trimmed))
	return b
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
