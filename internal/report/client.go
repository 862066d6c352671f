// Package report fetches the request-count report from the reporting API.
// Date validation happens here so the model gets a structured error it can
// self-correct from instead of a failed HTTP call.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Client fetches reports from one endpoint with a static auth token.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a report client.
func NewClient(endpoint, token string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if token == "" {
		return nil, fmt.Errorf("auth token is required")
	}

	c := &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch retrieves the report for [fromDate, toDate]. Both dates must be
// YYYY-MM-DD and fromDate must not exceed toDate. A same-day range widens to
// a one-day span before the downstream call.
func (c *Client) Fetch(ctx context.Context, fromDate, toDate string) (map[string]interface{}, error) {
	if fromDate == "" || toDate == "" {
		return nil, fmt.Errorf("from_date and to_date are required")
	}
	if !dateRe.MatchString(fromDate) || !dateRe.MatchString(toDate) {
		return nil, fmt.Errorf("from_date and to_date must be in YYYY-MM-DD format")
	}
	if fromDate > toDate {
		return nil, fmt.Errorf("from_date must be less than to_date")
	}

	if fromDate == toDate {
		from, err := time.Parse(dateLayout, fromDate)
		if err != nil {
			return nil, fmt.Errorf("from_date and to_date must be in YYYY-MM-DD format")
		}
		toDate = from.AddDate(0, 0, 1).Format(dateLayout)
	}

	params := url.Values{}
	params.Set("from_date", fromDate)
	params.Set("to_date", toDate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build report request: %w", err)
	}
	req.Header.Set("Authorization", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("report request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read report response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%d - %s", resp.StatusCode, string(data))
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode report response: %w", err)
	}

	c.logger.Debug().Str("from", fromDate).Str("to", toDate).Msg("Fetched request report")
	return out, nil
}
