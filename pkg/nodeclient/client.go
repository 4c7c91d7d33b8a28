// Package nodeclient speaks the worker node wire contract:
//
//	GET    /health               {status}
//	POST   /restart              {status}
//	POST   /sync                 {contractId, state} -> {status}
//	GET    /state/:contractId    {state}
//	DELETE /state/:contractId
//	POST   /events               {type, payload}
//
// Every call is bounded by the client timeout and any failure is returned as
// an *errs.NetworkError.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/model"
)

// DefaultTimeout bounds every node call.
const DefaultTimeout = 5 * time.Second

type Client struct {
	http    *http.Client
	timeout time.Duration
}

// New returns a client. A nil httpClient uses http.DefaultClient; timeout <= 0 uses DefaultTimeout.
func New(httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{http: httpClient, timeout: timeout}
}

// Timeout returns the per-call bound.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Health succeeds only on 200 with status "healthy".
func (c *Client) Health(ctx context.Context, node model.Node) error {
	var resp model.StatusResponse
	if err := c.do(ctx, node, "health", http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	return expectStatus(node, "health", resp.Status, model.StatusHealthy)
}

// Restart succeeds only on 200 with status "restarted".
func (c *Client) Restart(ctx context.Context, node model.Node) error {
	var resp model.StatusResponse
	if err := c.do(ctx, node, "restart", http.MethodPost, "/restart", struct{}{}, &resp); err != nil {
		return err
	}
	return expectStatus(node, "restart", resp.Status, model.StatusRestarted)
}

// Sync pushes a contract state and succeeds only when the node answers "synced".
func (c *Client) Sync(ctx context.Context, node model.Node, contractID string, state model.Payload) error {
	var resp model.StatusResponse
	req := model.SyncRequest{ContractID: contractID, State: state}
	if err := c.do(ctx, node, "sync", http.MethodPost, "/sync", req, &resp); err != nil {
		return err
	}
	return expectStatus(node, "sync", resp.Status, model.StatusSynced)
}

// FetchState reads the node's replica of a contract. A missing or null state is an error.
func (c *Client) FetchState(ctx context.Context, node model.Node, contractID string) (model.Payload, error) {
	var resp model.StateResponse
	if err := c.do(ctx, node, "fetch state", http.MethodGet, statePath(contractID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.State == nil {
		return nil, &errs.NetworkError{NodeID: node.ID, Op: "fetch state", Err: fmt.Errorf("empty state")}
	}
	return resp.State, nil
}

// DeleteState removes the node's replica of a contract.
func (c *Client) DeleteState(ctx context.Context, node model.Node, contractID string) error {
	return c.do(ctx, node, "delete state", http.MethodDelete, statePath(contractID), nil, nil)
}

// SendEvent posts an event envelope to the node. The node's answer is not inspected beyond the status code.
func (c *Client) SendEvent(ctx context.Context, node model.Node, envelope any) error {
	return c.do(ctx, node, "event", http.MethodPost, "/events", envelope, nil)
}

func (c *Client) do(ctx context.Context, node model.Node, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fail := func(err error) error {
		return &errs.NetworkError{NodeID: node.ID, Op: op, Err: err}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fail(fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(node.Address, "/")+path, body)
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(fmt.Errorf("node returned %s body=%s", resp.Status, strings.TrimSpace(string(b))))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func expectStatus(node model.Node, op, got, want string) error {
	if got != want {
		return &errs.NetworkError{NodeID: node.ID, Op: op, Err: fmt.Errorf("status %q, want %q", got, want)}
	}
	return nil
}

func statePath(contractID string) string {
	return "/state/" + url.PathEscape(contractID)
}
