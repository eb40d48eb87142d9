package uplink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scoutware/scanrelay/pkg/logger"
)

// Client delivers payloads over form-encoded HTTP POST. The response is
// drained and discarded: the aggregation endpoint gives no usable
// acknowledgment, so a completed exchange counts as success whatever the
// status code says.
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates an uplink client. The timeout bounds each delivery
// attempt end to end; zero means no timeout.
func NewClient(timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.Named("uplink-cli"),
	}
}

// Deliver posts the payload to the endpoint.
func (c *Client) Deliver(ctx context.Context, endpoint string, payload Payload) error {
	form := url.Values{}
	form.Set("timestamp", payload.Timestamp)
	form.Set("raw", payload.Raw)
	form.Set("jsonCols", payload.JSONCols)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.Debug("Delivering scan payload",
		logger.String("endpoint", endpoint),
		logger.Int("raw_length", len(payload.Raw)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	// Opaque delivery: drain the body, ignore the status.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("Delivery exchange completed",
		logger.Int("status_code", resp.StatusCode),
	)

	return nil
}
