package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// APIError is a non-2xx response from the QuickBooks API.
type APIError struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quickbooks api returned %d: %s", e.StatusCode, truncate(string(e.Body), 300))
}

// client performs authenticated v3 REST calls for one realm.
type client struct {
	http         *http.Client
	limiter      *rate.Limiter
	baseURL      string
	minorVersion string
}

func (c *client) do(ctx context.Context, method, realmID, path string, query url.Values, body any, token string, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, realmID, path, query, payload, token)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *client) newRequest(ctx context.Context, method, realmID, path string, query url.Values, body io.Reader, token string) (*http.Request, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("minorversion", c.minorVersion)

	endpoint := fmt.Sprintf("%s/company/%s%s?%s", c.baseURL, url.PathEscape(realmID), path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *client) send(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		// the wait would outlive the deadline
		return fmt.Errorf("rate limiter: %w", context.DeadlineExceeded)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       data,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
