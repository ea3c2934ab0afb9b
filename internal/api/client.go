package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRetryDelay = time.Second
	defaultMaxRetries = 10
)

// Client talks to the lab service API. Every path is relative to baseURL,
// which already carries the API version.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	maxRetries int
	retryDelay time.Duration
	http       *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMaxRetries bounds how often a rate-limited request is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the fixed wait between rate-limited attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client for the given versioned base URL
// (e.g. https://labs.example/api/v4/).
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		token:      token,
		userAgent:  "labvpn",
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Servers fetches the server tree of a product scope.
func (c *Client) Servers(ctx context.Context, product string) (ServersData, error) {
	var resp envelope[ServersData]
	endpoint := "connections/servers?product=" + url.QueryEscape(product)
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return ServersData{}, err
	}
	return resp.Data, nil
}

// ProlabServers fetches the server tree of a single per-lab product.
func (c *Client) ProlabServers(ctx context.Context, labID int) (ServersData, error) {
	var resp envelope[ServersData]
	if err := c.getJSON(ctx, "connections/servers/prolab/"+strconv.Itoa(labID), &resp); err != nil {
		return ServersData{}, err
	}
	return resp.Data, nil
}

// Prolabs lists every per-lab product.
func (c *Client) Prolabs(ctx context.Context) ([]Prolab, error) {
	var resp envelope[prolabsData]
	if err := c.getJSON(ctx, "prolabs", &resp); err != nil {
		return nil, err
	}
	return resp.Data.Labs, nil
}

// Connections returns the raw per-category assignment listing.
func (c *Client) Connections(ctx context.Context) (map[string]json.RawMessage, error) {
	var resp envelope[json.RawMessage]
	if err := c.getJSON(ctx, "connections", &resp); err != nil {
		return nil, err
	}
	data := bytes.TrimSpace(resp.Data)
	// An account without assignments gets "[]" or null rather than {}.
	if len(data) == 0 || data[0] != '{' {
		return map[string]json.RawMessage{}, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode connections: %w", err)
	}
	return out, nil
}

// ConnectionStatus lists the live tunnels of the account.
func (c *Client) ConnectionStatus(ctx context.Context) ([]ConnectionStatus, error) {
	var resp []ConnectionStatus
	if err := c.getJSON(ctx, "connection/status", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SwitchServer asks the service to bind the account to serverID.
func (c *Client) SwitchServer(ctx context.Context, serverID int) (SwitchResponse, error) {
	var resp SwitchResponse
	if err := c.postJSON(ctx, "connections/servers/switch/"+strconv.Itoa(serverID), nil, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// DownloadProfile returns the OpenVPN profile of serverID.
func (c *Client) DownloadProfile(ctx context.Context, serverID int, tcp bool) ([]byte, error) {
	endpoint := "access/ovpnfile/" + strconv.Itoa(serverID) + "/0"
	if tcp {
		endpoint += "/1"
	}
	return c.get(ctx, endpoint)
}

// SpawnMachine starts the lab instance machineID.
func (c *Client) SpawnMachine(ctx context.Context, machineID int) (MachineActionResponse, error) {
	var resp MachineActionResponse
	err := c.postJSON(ctx, "vm/spawn", map[string]int{"machine_id": machineID}, &resp)
	return resp, err
}

// TerminateMachine stops the lab instance machineID.
func (c *Client) TerminateMachine(ctx context.Context, machineID int) (MachineActionResponse, error) {
	var resp MachineActionResponse
	err := c.postJSON(ctx, "vm/terminate", map[string]int{"machine_id": machineID}, &resp)
	return resp, err
}

// ActiveMachine returns the running instance, or nil when there is none.
func (c *Client) ActiveMachine(ctx context.Context) (*ActiveMachine, error) {
	var resp activeMachineResponse
	if err := c.getJSON(ctx, "machine/active", &resp); err != nil {
		return nil, err
	}
	if resp.Info == nil || resp.Info.ID == 0 {
		return nil, nil
	}
	return resp.Info, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	data, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	data, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// do sends the request, waiting out 429 responses, and returns the body of
// a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, err
		}

		if res.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
			continue
		}
		if res.StatusCode == http.StatusNoContent {
			return nil, nil
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return nil, newRequestError(res.StatusCode, data)
		}
		return data, nil
	}
}
