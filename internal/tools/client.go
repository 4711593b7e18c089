package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/mofagent/internal/config"
	"github.com/aristath/mofagent/internal/logging"
)

// maxResponseBytes caps how much of a service response is read.
const maxResponseBytes = 256 << 20

// StatusError is a non-2xx response from a compute service.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s service returned HTTP %d: %s", e.Service, e.Code, strings.TrimSpace(body))
}

// ServiceClient talks to one remote compute service. Every call is bounded
// by the service timeout (retries included), retried with backoff on
// transport errors and 5xx responses, and guarded by the service's breaker.
type ServiceClient struct {
	name    string
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewServiceClient creates a client for the named service.
func NewServiceClient(name string, cfg config.ServiceConfig, breakers *BreakerRegistry, retry RetryPolicy, logger *slog.Logger) (*ServiceClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%s service base URL is not configured", name)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if retry.MaxElapsedTime <= 0 || retry.MaxElapsedTime > timeout {
		retry.MaxElapsedTime = timeout
	}
	return &ServiceClient{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
		breaker: breakers.Get(name),
		retry:   retry,
		logger:  logging.OrNop(logger).With("service", name),
	}, nil
}

// Name returns the service name.
func (c *ServiceClient) Name() string { return c.name }

// Upload is a file sent as one multipart form field.
type Upload struct {
	Field string
	Path  string
}

// PostFile uploads a file plus form fields to endpoint and returns the body.
func (c *ServiceClient) PostFile(ctx context.Context, endpoint string, file Upload, fields map[string]string) ([]byte, error) {
	payload, contentType, err := encodeMultipart(file, fields)
	if err != nil {
		return nil, err
	}

	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
}

// Get fetches endpoint with the given query parameters.
func (c *ServiceClient) Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

func (c *ServiceClient) do(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	body, err := withRetry(ctx, c.breaker, c.retry, func() ([]byte, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("reading %s response: %w", c.name, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Service: c.name, Code: resp.StatusCode, Body: string(data)}
		}
		return data, nil
	})
	if err != nil {
		c.logger.Warn("service call failed", "elapsed", time.Since(start), "error", err)
		return nil, err
	}

	c.logger.Debug("service call succeeded", "elapsed", time.Since(start), "bytes", len(body))
	return body, nil
}

func encodeMultipart(file Upload, fields map[string]string) ([]byte, string, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", file.Path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(file.Field, filepath.Base(file.Path))
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copying %s: %w", file.Path, err)
	}

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", k, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
