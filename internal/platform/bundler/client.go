// Package bundler is a JSON-RPC client for an atomic bundle relay. Bundles
// either land as a unit or not at all, which is what makes the two-phase
// initialization protocol safe against partial on-chain state.
package bundler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/futarchlabs/futarchd/internal/domain"
)

// pollInterval is how often AwaitLanded re-checks bundle status.
const pollInterval = 2 * time.Second

// Client submits transaction bundles to the relay over HTTP JSON-RPC.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a new relay client for the given endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ domain.BundleSubmitter = (*Client)(nil)

// rpcRequest is the standard JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcResponse is the standard JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit encodes each transaction as base64 and posts the bundle via
// sendBundle. The returned id is the relay's bundle identifier.
func (c *Client) Submit(ctx context.Context, txs []domain.Tx) (domain.BundleID, error) {
	if len(txs) == 0 {
		return "", fmt.Errorf("bundler: empty bundle")
	}

	encoded := make([]string, 0, len(txs))
	for _, tx := range txs {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(tx.Data))
	}

	result, err := c.call(ctx, "sendBundle", []any{encoded})
	if err != nil {
		return "", fmt.Errorf("bundler: send bundle: %w", err)
	}

	var id string
	if err := json.Unmarshal(result, &id); err != nil {
		return "", fmt.Errorf("bundler: decode bundle id: %w", err)
	}
	return domain.BundleID(id), nil
}

// bundleStatusEntry is a single entry of a getBundleStatuses result.
type bundleStatusEntry struct {
	BundleID string `json:"bundle_id"`
	Status   string `json:"status"`
	Slot     uint64 `json:"slot"`
}

// AwaitLanded polls getBundleStatuses until the bundle lands, is dropped, or
// the timeout elapses. A timeout or a dropped status reports Landed=false
// without error; the caller decides how to unwind.
func (c *Client) AwaitLanded(ctx context.Context, id domain.BundleID, timeout time.Duration) (domain.BundleStatus, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.fetchStatus(ctx, id)
		if err != nil {
			return domain.BundleStatus{}, err
		}
		switch status.Status {
		case "landed", "finalized":
			return domain.BundleStatus{Landed: true, Slot: status.Slot}, nil
		case "dropped", "failed":
			return domain.BundleStatus{}, nil
		}

		if time.Now().After(deadline) {
			return domain.BundleStatus{}, nil
		}
		select {
		case <-ctx.Done():
			return domain.BundleStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) fetchStatus(ctx context.Context, id domain.BundleID) (bundleStatusEntry, error) {
	result, err := c.call(ctx, "getBundleStatuses", []any{[]string{string(id)}})
	if err != nil {
		return bundleStatusEntry{}, fmt.Errorf("bundler: get bundle status %s: %w", id, err)
	}

	var parsed struct {
		Value []bundleStatusEntry `json:"value"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return bundleStatusEntry{}, fmt.Errorf("bundler: decode bundle status %s: %w", id, err)
	}
	if len(parsed.Value) == 0 {
		// Relay has not indexed the bundle yet; still in flight.
		return bundleStatusEntry{BundleID: string(id), Status: "pending"}, nil
	}
	return parsed.Value[0], nil
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
