// Package qubic is the HTTP client for the chain RPC that supplies prices,
// tick info, and transfer data. All engine callers go through the Breaker
// wrapper; nothing in the settlement path talks to the raw Client directly.
package qubic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quforge/qubet/internal/domain"
)

// APIError is a non-2xx response from the gateway. The breaker only counts
// transport failures and 5xx responses as outages, so callers get this typed
// error for everything the gateway answered deliberately.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// Unwrap maps 404 to domain.ErrNotFound so callers can errors.Is without
// importing this package's error type.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return nil
}

// ServerFault reports whether err is an outage worth tripping the breaker:
// transport failures and gateway 5xx responses. 4xx responses mean the
// gateway is up and rejected the request.
func ServerFault(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return true
}

// Client is a thin JSON client for the Qubic RPC gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the given RPC base URL. timeout bounds
// every request at the transport level.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CurrentPrice returns the latest price for a pair.
func (c *Client) CurrentPrice(ctx context.Context, pair string) (PricePoint, error) {
	var out struct {
		Pair      string `json:"pair"`
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	path := "/v1/price?pair=" + url.QueryEscape(pair)
	if err := c.get(ctx, path, &out); err != nil {
		return PricePoint{}, fmt.Errorf("qubic: current price %s: %w", pair, err)
	}

	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return PricePoint{}, fmt.Errorf("qubic: parse price %q: %w", out.Price, err)
	}

	return PricePoint{
		Pair:      out.Pair,
		Price:     price,
		Timestamp: time.Unix(out.Timestamp, 0).UTC(),
	}, nil
}

// TickInfo returns the chain's current tick and epoch.
func (c *Client) TickInfo(ctx context.Context) (TickInfo, error) {
	var out TickInfo
	if err := c.get(ctx, "/v1/tick-info", &out); err != nil {
		return TickInfo{}, fmt.Errorf("qubic: tick info: %w", err)
	}
	return out, nil
}

// LookupTransfer fetches an on-chain transfer by hash. Unknown hashes come
// back as a 404 from the gateway and surface as domain.ErrNotFound here; a
// bad hash is a failed verification, never a breaker-worthy outage.
func (c *Client) LookupTransfer(ctx context.Context, txHash string) (TransferInfo, error) {
	var out TransferInfo
	if err := c.get(ctx, "/v1/transfers/"+url.PathEscape(txHash), &out); err != nil {
		return TransferInfo{}, fmt.Errorf("qubic: lookup transfer %s: %w", txHash, err)
	}
	return out, nil
}

// BroadcastTransfer submits a QU transfer to the chain.
func (c *Client) BroadcastTransfer(ctx context.Context, dest string, amountQu int64, ref string) (BroadcastResult, error) {
	body := map[string]any{
		"dest":      dest,
		"amount_qu": amountQu,
		"ref":       ref,
	}
	var out BroadcastResult
	if err := c.post(ctx, "/v1/broadcast-transfer", body, &out); err != nil {
		return BroadcastResult{}, fmt.Errorf("qubic: broadcast transfer: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
