package greengate

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
)

const apiPrefix = "/api/v1"

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the GreenGate server
	// (e.g. "https://api.greengate.com.br").
	BaseURL string

	// APIKey authenticates metered requests. It may be empty for a
	// client that only calls the public verification endpoints.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the GreenGate screening API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("greengate: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpClient,
	}, nil
}

// QuickValidate screens a geometry without persisting anything. No API
// key is required; the anonymous rate limit applies.
func (c *Client) QuickValidate(ctx context.Context, geometry json.RawMessage) (*ValidateResponse, error) {
	var resp ValidateResponse
	if err := c.post(ctx, apiPrefix+"/validations/quick", ValidateRequest{Geometry: geometry}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Validate screens a geometry under the caller's key. Setting a plot
// name in req.PropertyInfo stores the parcel for later re-screening.
func (c *Client) Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	var resp ValidateResponse
	if err := c.post(ctx, apiPrefix+"/validations/validate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidatePlot re-screens a stored plot. With force true a fresh
// screening always runs; otherwise a still-valid cached result may be
// returned.
func (c *Client) ValidatePlot(ctx context.Context, plotID string, force bool) (*ValidateResponse, error) {
	path := apiPrefix + "/validations/plot/" + url.PathEscape(plotID)
	if force {
		path += "?force=true"
	}
	var resp ValidateResponse
	if err := c.post(ctx, path, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchValidate screens up to 100 stored plots in one request.
func (c *Client) BatchValidate(ctx context.Context, plotIDs []string) (*BatchResponse, error) {
	var resp BatchResponse
	body := map[string]any{"plot_ids": plotIDs}
	if err := c.post(ctx, apiPrefix+"/validations/batch", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IssueReport screens the geometry and returns a signed due-diligence
// PDF together with its audit code and content hash.
func (c *Client) IssueReport(ctx context.Context, req ReportRequest) (*Report, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("greengate: marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+apiPrefix+"/reports/due-diligence/quick", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("greengate: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("greengate: %s %s: %w", httpReq.Method, httpReq.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("greengate: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	return &Report{
		Code:    resp.Header.Get("X-Report-Code"),
		PDFHash: resp.Header.Get("X-Content-Hash"),
		PDF:     body,
	}, nil
}

// VerifyReport looks up an issued report by code. The endpoint is
// public; an expired report is returned with Valid false.
func (c *Client) VerifyReport(ctx context.Context, code string) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.get(ctx, apiPrefix+"/reports/verify/"+url.PathEscape(code), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyGeometry checks whether a geometry is byte-for-byte the one an
// issued report covers, via canonical-JSON hashing on the server.
func (c *Client) VerifyGeometry(ctx context.Context, code string, geometry json.RawMessage) (*GeometryMatch, error) {
	var resp GeometryMatch
	body := map[string]any{"geometry": geometry}
	path := apiPrefix + "/reports/verify/" + url.PathEscape(code) + "/geometry"
	if err := c.post(ctx, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DataFreshness reports the active dataset version behind every
// reference layer.
func (c *Client) DataFreshness(ctx context.Context) (*FreshnessResponse, error) {
	var resp FreshnessResponse
	if err := c.get(ctx, apiPrefix+"/metadata/data-freshness", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("greengate: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("greengate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("greengate: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("greengate: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("greengate: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, body)
	}

	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("greengate: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(status int, body []byte) error {
	var envelope struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
		Code   string `json:"code"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == "" {
		return &Error{StatusCode: status, Code: "unknown", Message: strings.TrimSpace(string(body))}
	}
	return &Error{
		StatusCode: status,
		Code:       envelope.Code,
		Message:    envelope.Error,
		Detail:     envelope.Detail,
	}
}
