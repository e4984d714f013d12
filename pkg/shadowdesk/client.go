// Package shadowdesk provides a Go SDK for the shadowdesk control API.
package shadowdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shadowdesk/internal/domain"
	"shadowdesk/internal/httpapi"
)

// Client talks to a shadowdesk-server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. A nil httpClient
// gets a 30 second timeout default.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Health checks the server is up.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.call(ctx, http.MethodGet, "/api/health", nil, &out)
}

// Accounts lists every account.
func (c *Client) Accounts(ctx context.Context) ([]httpapi.AccountJSON, error) {
	var out []httpapi.AccountJSON
	err := c.call(ctx, http.MethodGet, "/api/accounts", nil, &out)
	return out, err
}

// Account retrieves one account with its subscriptions and allocations.
func (c *Client) Account(ctx context.Context, id int64) (*httpapi.AccountJSON, error) {
	var out httpapi.AccountJSON
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/accounts/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Algos returns active subscription counts per algo.
func (c *Client) Algos(ctx context.Context) (map[string]int, error) {
	var out map[string]int
	err := c.call(ctx, http.MethodGet, "/api/algos", nil, &out)
	return out, err
}

// Positions retrieves an account's open positions, grouped by
// subscription.
func (c *Client) Positions(ctx context.Context, accountID int64) (*httpapi.PositionsResponse, error) {
	var out httpapi.PositionsResponse
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/accounts/%d/positions", accountID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PnL retrieves an account's daily P&L rows for [start, end].
func (c *Client) PnL(ctx context.Context, accountID int64, start, end time.Time) (*httpapi.PnLResponse, error) {
	path := fmt.Sprintf("/api/accounts/%d/pnl?start=%s&end=%s",
		accountID, start.Format("2006-01-02"), end.Format("2006-01-02"))
	var out httpapi.PnLResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Book retrieves a subscription's shadow document with derived metrics.
func (c *Client) Book(ctx context.Context, subscriptionID int64) (*httpapi.BookResponse, error) {
	var out httpapi.BookResponse
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/subscriptions/%d/book", subscriptionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivateKillSwitch force-exits the given sides of an account and blocks
// their re-entry. No sides means both.
func (c *Client) ActivateKillSwitch(ctx context.Context, accountID int64, sides ...domain.Side) error {
	return c.killSwitch(ctx, http.MethodPost, accountID, sides)
}

// ReleaseKillSwitch clears the switch and re-enters from the shadow book.
func (c *Client) ReleaseKillSwitch(ctx context.Context, accountID int64, sides ...domain.Side) error {
	return c.killSwitch(ctx, http.MethodDelete, accountID, sides)
}

func (c *Client) killSwitch(ctx context.Context, method string, accountID int64, sides []domain.Side) error {
	var req httpapi.KillSwitchRequest
	switch {
	case len(sides) == 0:
	case len(sides) == 1 && sides[0] == domain.SideBuy:
		req.Side = "long"
	case len(sides) == 1 && sides[0] == domain.SideSell:
		req.Side = "short"
	}
	var out map[string]string
	return c.call(ctx, method, fmt.Sprintf("/api/accounts/%d/killswitch", accountID), req, &out)
}

// call performs one JSON round trip. A non-2xx status is returned as an
// error carrying the server's message.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
