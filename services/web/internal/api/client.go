package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/TP-Master1-GL/TERRABIA/pkg/httpclient"
	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
	"github.com/TP-Master1-GL/TERRABIA/pkg/middleware"
	"github.com/TP-Master1-GL/TERRABIA/services/web/internal/domain"
)

// ServiceName labels errors and the circuit breaker for the marketplace API.
const ServiceName = "marketplace-api"

const maxBodyBytes = 1 << 20

// TokenSource supplies the bearer token attached to authenticated calls.
type TokenSource interface {
	Get(ctx context.Context) (string, bool, error)
}

// TransportError reports that the marketplace API could not be reached or
// answered with a body that could not be read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{domain.ErrTransport, e.Err}
}

// Client calls the marketplace REST API.
type Client struct {
	baseURL string
	http    *httpclient.CircuitBreakerClient
	logger  *slog.Logger
}

// NewClient creates an API client rooted at baseURL.
func NewClient(baseURL string, hc *httpclient.CircuitBreakerClient, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
	}
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends a JSON request and decodes a JSON answer into out when non-nil.
// Non-2xx answers come back as *httpclient.ResponseError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, ts TokenSource, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if body != nil {
		header.Set("Content-Type", "application/json")
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		header.Set(middleware.CorrelationHeader, id)
	}
	if ts != nil {
		tok, ok, err := ts.Get(ctx)
		if err != nil {
			return fmt.Errorf("read access token: %w", err)
		}
		if ok {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Send(ctx, method, target, reader, header)
	if err != nil {
		var respErr *httpclient.ResponseError
		if errors.As(err, &respErr) {
			return respErr
		}
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return httpclient.ParseResponseError(resp, ServiceName)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: "read " + path, Err: err}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", domain.ErrMalformedPayload, method, path, err)
	}
	return nil
}

// Message returns the first human-readable text carried by err: the server's
// error field, then its message field, then the transport error text. An
// empty string means none was available.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var respErr *httpclient.ResponseError
	if errors.As(err, &respErr) {
		return respErr.Detail()
	}

	var tErr *TransportError
	if errors.As(err, &tErr) {
		return tErr.Err.Error()
	}
	return ""
}
