package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client issues raw HTTP calls against one of the hosted model APIs. The
// same client serves all deployment kinds; only the paths differ.
type Client struct {
	http *http.Client

	pollInterval time.Duration
	maxRunWait   time.Duration
}

func NewClient() *Client {
	return &Client{
		http:         &http.Client{Timeout: 300 * time.Second},
		pollInterval: 500 * time.Millisecond,
		maxRunWait:   120 * time.Second,
	}
}

// endpoint joins the deployment base URL with a path and appends the API
// version query parameter the Azure-style APIs require.
func endpoint(d Deployment, path string) string {
	url := strings.TrimRight(d.URL, "/") + path
	if d.APIVersion == "" {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "api-version=" + d.APIVersion
}

// postJSON sends the payload and returns the raw response body. Non-2xx
// responses are returned as-is; callers normalize error payloads themselves.
func (c *Client) postJSON(ctx context.Context, d Deployment, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", d.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	return raw, nil
}

// restJSON is the assistant-API helper: method + path, decoded JSON out.
func (c *Client) restJSON(ctx context.Context, d Deployment, method, path string, payload, out any) error {
	var body io.Reader
	if method != http.MethodGet {
		if payload == nil {
			payload = struct{}{}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request payload failed: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint(d, path), body)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("api-key", d.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned HTTP %d: %s", method, path, resp.StatusCode, clipBytes(raw, 800))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response from %s failed: %w", path, err)
		}
	}
	return nil
}

// FetchFileContent downloads the raw bytes of a remote file, used for
// assistant-generated downloads.
func (c *Client) FetchFileContent(ctx context.Context, d Deployment, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(d, "/openai/files/"+fileID+"/content"), nil)
	if err != nil {
		return nil, fmt.Errorf("build file request failed: %w", err)
	}
	req.Header.Set("api-key", d.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file %s failed: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch file %s returned HTTP %d", fileID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// FetchURL downloads bytes from an arbitrary URL, used for image results
// returned by reference.
func (c *Client) FetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request failed: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s returned HTTP %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func clipBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
