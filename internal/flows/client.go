// Package flows reads and clears flow records on an intercepting proxy's
// web API.
package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
)

// Flow is one recorded request/response exchange, reduced to the fields the
// control plane surfaces.
type Flow struct {
	ID       string        `json:"id"`
	Request  FlowRequest   `json:"request"`
	Response *FlowResponse `json:"response,omitempty"`
}

// FlowRequest is the recorded request side of a flow.
type FlowRequest struct {
	Method string `json:"method"`
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Path   string `json:"path"`
}

// FlowResponse is the recorded response side of a flow.
type FlowResponse struct {
	StatusCode int `json:"status_code"`
}

// Client talks to one proxy instance's flow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a flow client for the given proxy instance.
func NewClient(proxy domain.ProxyInstance) *Client {
	return &Client{
		baseURL: "http://" + proxy.WebAddr(),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// List returns the recorded flows.
func (c *Client) List(ctx context.Context) ([]Flow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/flows", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProxyNotRunning, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("flow API returned status %d: %s", resp.StatusCode, string(body))
	}

	var flows []Flow
	if err := json.NewDecoder(resp.Body).Decode(&flows); err != nil {
		return nil, fmt.Errorf("failed to decode flows: %w", err)
	}
	return flows, nil
}

// Clear discards all recorded flows.
func (c *Client) Clear(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clear", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProxyNotRunning, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("flow API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
