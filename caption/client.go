package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	DefaultMaxAttempts    = 5
	DefaultBaseDelay      = 2 * time.Second
	DefaultMaxDelay       = 16 * time.Second
	DefaultRequestTimeout = 60 * time.Second

	loadingMarker    = "currently loading"
	maxResponseBytes = 1 << 20
)

type outcome string

const (
	outcomeSuccess  outcome = "success"
	outcomeLoading  outcome = "loading"
	outcomeTerminal outcome = "terminal"
)

// Config holds the inference endpoint and its credential.
type Config struct {
	Endpoint       string
	Token          string
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration
}

// Client calls an image captioning inference endpoint, retrying while the model loads.
type Client struct {
	endpoint    string
	token       string
	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type captionResult struct {
	GeneratedText string `json:"generated_text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		token:       cfg.Token,
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		sleep:       sleepContext,
	}
}

// Backoff returns the wait after the given zero-based attempt: min(maxDelay, baseDelay*2^attempt).
func (c *Client) Backoff(attempt int) time.Duration {
	d := c.baseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.maxDelay {
			return c.maxDelay
		}
	}
	if d > c.maxDelay {
		return c.maxDelay
	}
	return d
}

// Caption returns the caption generated for image. Any failure, including running out
// of attempts while the model is loading, is reported as models.ErrCaptionUnavailable.
func (c *Client) Caption(ctx context.Context, image []byte) (string, error) {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		result, text, err := c.attempt(ctx, image)
		metrics.CaptionAttemptsTotal.WithLabelValues(string(result)).Inc()

		switch result {
		case outcomeSuccess:
			return text, nil
		case outcomeTerminal:
			return "", fmt.Errorf("%w: %v", models.ErrCaptionUnavailable, err)
		}

		if attempt == c.maxAttempts-1 {
			break
		}
		wait := c.Backoff(attempt)
		log.Infof("Caption model is loading, attempt %d/%d, retrying in %v", attempt+1, c.maxAttempts, wait)
		if err := c.sleep(ctx, wait); err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrCaptionUnavailable, err)
		}
	}
	return "", fmt.Errorf("%w: model still loading after %d attempts", models.ErrCaptionUnavailable, c.maxAttempts)
}

func (c *Client) attempt(ctx context.Context, image []byte) (outcome, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return outcomeTerminal, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return outcomeTerminal, "", fmt.Errorf("failed to send request to caption service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return outcomeTerminal, "", fmt.Errorf("failed to read caption response: %w", err)
	}

	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		if strings.Contains(errResp.Error, loadingMarker) {
			return outcomeLoading, "", errors.New(errResp.Error)
		}
		return outcomeTerminal, "", fmt.Errorf("caption service error (status %d): %s", resp.StatusCode, errResp.Error)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return outcomeTerminal, "", fmt.Errorf("caption service returned status %d", resp.StatusCode)
	}

	var results []captionResult
	if err := json.Unmarshal(body, &results); err != nil {
		return outcomeTerminal, "", fmt.Errorf("failed to decode caption response: %w", err)
	}
	if len(results) == 0 || results[0].GeneratedText == "" {
		return outcomeTerminal, "", errors.New("caption service returned no generated_text")
	}
	return outcomeSuccess, results[0].GeneratedText, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
