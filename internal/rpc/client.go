package rpc

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

	"github.com/google/uuid"
)

// Client talks to a running `bt serve`
type Client struct {
	baseURL string
	http    *http.Client
	// Version is sent with every request for the server's compatibility check
	Version string
}

// NewClient returns a client for the server at addr ("host:port" or a URL)
func NewClient(addr string, timeout time.Duration) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: timeout},
		Version: ServerVersion,
	}
}

// TryConnect returns a client if a healthy server answers ping at addr, or
// nil (and no error) when nothing is listening.
func TryConnect(ctx context.Context, addr string) (*Client, error) {
	if addr == "" {
		return nil, nil
	}
	c := NewClient(addr, 2*time.Second)
	resp, err := c.Execute(ctx, OpPing, nil)
	if err != nil {
		return nil, nil
	}
	if !resp.Success {
		return nil, fmt.Errorf("server at %s rejected ping: %s", addr, resp.Error)
	}
	return c, nil
}

// Execute sends one operation and returns the envelope. The error is only
// set for transport failures; operation failures are in Response.Error.
func (c *Client) Execute(ctx context.Context, operation string, args interface{}) (*Response, error) {
	req := Request{
		Operation:     operation,
		RequestID:     uuid.New().String(),
		ClientVersion: c.Version,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s args: %w", operation, err)
		}
		req.Args = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(RequestIDHeader, req.RequestID)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("server returned %d: %s", httpResp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// Call executes operation and decodes Data into out. Operation failures
// become errors, but out is still filled when the server sent data.
func (c *Client) Call(ctx context.Context, operation string, args, out interface{}) error {
	resp, err := c.Execute(ctx, operation, args)
	if err != nil {
		return err
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", operation, err)
		}
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	return nil
}
