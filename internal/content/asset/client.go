// Package asset is the HTTP client of the asset service, the default
// content store.
//
// WIRE CONTRACT:
//
//	POST   {base}/v1/asset/snippet/{id}   body = raw code
//	GET    {base}/v1/asset/snippet/{id}   → raw code
//	DELETE {base}/v1/asset/snippet/{id}
//
// Every request carries the caller's correlation ID in X-Correlation-Id.
// Any 4xx/5xx is an error whose message includes the response body, so the
// asset service's explanation reaches the client unchanged.
package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/content"
	"github.com/sakif/snippet-manager/internal/correlation"
)

var _ content.Store = (*Client)(nil)

// DefaultTimeout bounds each request when the caller does not supply one.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a response body is read.
const maxBody = 10 << 20

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the asset service at baseURL.
// A zero timeout means DefaultTimeout.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) url(id int64) string {
	return c.baseURL + "/v1/asset/snippet/" + strconv.FormatInt(id, 10)
}

// Put stores code under id.
func (c *Client) Put(ctx context.Context, id int64, code string) error {
	_, err := c.do(ctx, http.MethodPost, id, code, "error saving snippet")
	return err
}

// Get fetches the code stored under id.
func (c *Client) Get(ctx context.Context, id int64) (string, error) {
	return c.do(ctx, http.MethodGet, id, "", "error getting snippet")
}

// Delete removes the code stored under id.
func (c *Client) Delete(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, id, "", "error deleting snippet")
	return err
}

func (c *Client) do(ctx context.Context, method string, id int64, body, failure string) (string, error) {
	var reader io.Reader
	if method == http.MethodPost {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(id), reader)
	if err != nil {
		return "", fmt.Errorf("asset: building request: %w", err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	if cid := correlation.FromContext(ctx); cid != "" {
		req.Header.Set(correlation.Header, cid)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("asset request failed",
			slog.String("method", method),
			slog.Int64("snippet_id", id),
			slog.String("error", err.Error()),
			correlation.Attr(ctx),
		)
		return "", apperror.Upstream(fmt.Sprintf("%s: %v", failure, err), isTransient(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", apperror.Upstream(fmt.Sprintf("%s: reading response: %v", failure, err), true)
	}

	c.logger.Debug("asset request",
		slog.String("method", method),
		slog.Int64("snippet_id", id),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
		correlation.Attr(ctx),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound && method != http.MethodPost:
		return "", apperror.NotFound("snippet content", id)
	case resp.StatusCode >= 400:
		return "", apperror.Upstream(fmt.Sprintf("%s: %s", failure, strings.TrimSpace(string(data))), resp.StatusCode >= 500)
	}

	return string(data), nil
}

// isTransient reports whether a transport error is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
