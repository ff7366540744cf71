// Package coingecko fetches the display exchange rate of ether.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// Client queries the simple/price endpoint for one coin and currency.
type Client struct {
	baseURL    string
	apiKey     string
	coinID     string
	currency   string
	httpClient *http.Client
}

// NewClient creates a price client. baseURL is e.g.
// "https://api.coingecko.com/api/v3"; apiKey may be empty.
func NewClient(baseURL, apiKey, coinID, currency string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   strings.TrimSpace(apiKey),
		coinID:   coinID,
		currency: strings.ToLower(currency),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Symbol names the quoted pair, e.g. "ethereum/usd".
func (c *Client) Symbol() string {
	return c.coinID + "/" + c.currency
}

// FetchPrice returns the current rate. Failures wrap domain.ErrFetchFailed.
func (c *Client) FetchPrice(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("ids", c.coinID)
	params.Set("vs_currencies", c.currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("coingecko: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("coingecko: %w: %w", domain.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("coingecko: %w: read response: %w", domain.ErrFetchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko: %w: HTTP %d: %s", domain.ErrFetchFailed, resp.StatusCode, string(body))
	}

	var result map[string]map[string]float64
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("coingecko: %w: decode response: %w", domain.ErrFetchFailed, err)
	}
	price, ok := result[c.coinID][c.currency]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("coingecko: %w: no %s price in response", domain.ErrFetchFailed, c.Symbol())
	}
	return price, nil
}
