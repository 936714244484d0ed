package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the generation service over a fixed JSON contract: one POST
// per operation, a GeneratedImage-shaped descriptor back. It knows nothing
// about the vendor behind the endpoint.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

type Config struct {
	Endpoint   string
	Token      string
	TimeoutSec int
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, ErrEndpointRequired
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string {
	return "http"
}

type wireRequest struct {
	Operation    string `json:"operation"`
	Prompt       string `json:"prompt,omitempty"`
	SourceURL    string `json:"sourceUrl,omitempty"`
	Model        string `json:"model,omitempty"`
	Size         string `json:"size,omitempty"`
	Quality      string `json:"quality,omitempty"`
	Format       string `json:"format,omitempty"`
	Transparency bool   `json:"transparency,omitempty"`
}

type wireResponse struct {
	URL           string `json:"url"`
	B64JSON       string `json:"b64Json"`
	RevisedPrompt string `json:"revisedPrompt"`
	Error         string `json:"error"`
}

func (c *Client) Generate(ctx context.Context, req *Request) (*Result, error) {
	res, err := c.post(ctx, "generate", req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return res, nil
}

func (c *Client) Edit(ctx context.Context, req *Request) (*Result, error) {
	res, err := c.post(ctx, "edit", req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEditFailed, err)
	}
	return res, nil
}

func (c *Client) Variation(ctx context.Context, req *Request) (*Result, error) {
	res, err := c.post(ctx, "variation", req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVariationFailed, err)
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, operation string, req *Request) (*Result, error) {
	body, err := json.Marshal(&wireRequest{
		Operation:    operation,
		Prompt:       req.Prompt,
		SourceURL:    req.SourceURL,
		Model:        req.Options.Model,
		Size:         req.Options.Size,
		Quality:      req.Options.Quality,
		Format:       req.Options.Format.String(),
		Transparency: req.Options.Transparency,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 64<<20))
	if err != nil {
		return nil, err
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		if wire.Error != "" {
			return nil, fmt.Errorf("provider error (status %d): %s", httpResp.StatusCode, wire.Error)
		}
		return nil, fmt.Errorf("provider error: status %d", httpResp.StatusCode)
	}

	url := wire.URL
	if url == "" && wire.B64JSON != "" {
		url = "data:image/png;base64," + wire.B64JSON
	}
	if url == "" {
		return nil, ErrEmptyResult
	}

	return &Result{URL: url, RevisedPrompt: wire.RevisedPrompt}, nil
}
