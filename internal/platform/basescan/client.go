// Package basescan is a client for the Etherscan-family logs API, used to
// query historical prize award events of the chest contract.
package basescan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/history"
)

// noRecords is the message the API returns with status "0" for an empty result.
const noRecords = "No records found"

// rateKey is the limiter key shared by every instance using the same API key.
const rateKey = "basescan"

// Client queries the logs module of the indexing API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	limiter    domain.RateLimiter
	rateLimit  int
	rateWindow time.Duration
}

// NewClient creates a new indexing API client.
//
// baseURL is the API endpoint, e.g. "https://api-sepolia.basescan.org/api".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithRateLimiter makes every request wait for a slot of limit requests per
// window. Free API keys allow five calls per second.
func (c *Client) WithRateLimiter(l domain.RateLimiter, limit int, window time.Duration) *Client {
	c.limiter, c.rateLimit, c.rateWindow = l, limit, window
	return c
}

// apiResponse is the standard response envelope. Result is an array on
// success and a string message on most errors.
type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type logRecord struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TimeStamp       string   `json:"timeStamp"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        string   `json:"logIndex"`
}

// FetchLogs returns the logs matching q. Any transport failure or malformed
// answer wraps domain.ErrFetchFailed.
func (c *Client) FetchLogs(ctx context.Context, q history.LogQuery) ([]domain.IndexedLog, error) {
	params := url.Values{}
	params.Set("module", "logs")
	params.Set("action", "getLogs")
	params.Set("address", q.Address.Hex())
	params.Set("topic0", q.Topic0.Hex())
	params.Set("fromBlock", strconv.FormatUint(q.FromBlock, 10))
	if q.ToBlock == 0 {
		params.Set("toBlock", "latest")
	} else {
		params.Set("toBlock", strconv.FormatUint(q.ToBlock, 10))
	}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	raw, err := c.doGet(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("basescan: fetch logs: %w: %w", domain.ErrFetchFailed, err)
	}

	var records []logRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("basescan: fetch logs: %w: result is not a log array: %w", domain.ErrFetchFailed, err)
	}

	out := make([]domain.IndexedLog, 0, len(records))
	for _, r := range records {
		l, err := r.toIndexed()
		if err != nil {
			// Unparseable records are dropped like undecodable ones.
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (r logRecord) toIndexed() (domain.IndexedLog, error) {
	topics := make([]common.Hash, 0, len(r.Topics))
	for _, t := range r.Topics {
		if t == "" {
			continue
		}
		b, err := hexutil.Decode(t)
		if err != nil || len(b) != common.HashLength {
			return domain.IndexedLog{}, fmt.Errorf("topic %q", t)
		}
		topics = append(topics, common.BytesToHash(b))
	}
	data, err := hexutil.Decode(normalizeHex(r.Data))
	if err != nil {
		return domain.IndexedLog{}, fmt.Errorf("data: %w", err)
	}
	ts, err := parseQuantity(r.TimeStamp)
	if err != nil {
		return domain.IndexedLog{}, fmt.Errorf("timeStamp: %w", err)
	}
	block, err := parseQuantity(r.BlockNumber)
	if err != nil {
		return domain.IndexedLog{}, fmt.Errorf("blockNumber: %w", err)
	}
	return domain.IndexedLog{
		Topics:      topics,
		Data:        data,
		Timestamp:   int64(ts),
		BlockNumber: block,
		TxHash:      common.HexToHash(r.TransactionHash),
	}, nil
}

// parseQuantity accepts 0x-prefixed hex or plain decimal.
func parseQuantity(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func normalizeHex(s string) string {
	if s == "" || s == "0x" {
		return "0x"
	}
	return s
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet executes one API call and returns the raw "result" field. An empty
// result reported as "No records found" is returned as an empty array.
func (c *Client) doGet(ctx context.Context, params url.Values) (json.RawMessage, error) {
	if c.limiter != nil && c.rateLimit > 0 {
		if err := c.limiter.Wait(ctx, rateKey, c.rateLimit, c.rateWindow); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var env apiResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if env.Status != "1" {
		if strings.EqualFold(env.Message, noRecords) {
			return json.RawMessage("[]"), nil
		}
		var detail string
		_ = json.Unmarshal(env.Result, &detail)
		return nil, fmt.Errorf("api error: %s: %s", env.Message, detail)
	}

	return env.Result, nil
}
