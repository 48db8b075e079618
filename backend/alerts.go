package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
)

const AlertStatusEscalated = "ESCALATED"

// UpdateAlertStatus sets the status of an alert through the admin API.
func (c *Client) UpdateAlertStatus(ctx context.Context, bearer, id, status string) error {
	payload := map[string]string{"status": status}
	return c.call(ctx, bearer, AdminAPI, http.MethodPatch, "/alerts/"+url.PathEscape(id)+"/status", payload, nil)
}

// call performs an authenticated JSON request. A 401 answer runs the
// unauthorized hook and is returned as an *APIError.
func (c *Client) call(ctx context.Context, bearer string, api API, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base(api).JoinPath(path).String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("backend: read %s response: %w", path, err)
	}

	if res.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized(ctx)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return apiError(res.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("backend: decode %s response: %w", path, err)
		}
	}
	return nil
}
