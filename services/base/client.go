package base

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jimmitjoo/tracechain/config"
	"github.com/jimmitjoo/tracechain/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	workPath = "/work"

	retryWaitMin = 50 * time.Millisecond
	retryWaitMax = 500 * time.Millisecond
)

// WorkerClient calls the worker service. Only transport failures are
// retried; any HTTP response, 5xx included, is the worker's answer.
type WorkerClient struct {
	client  *retryablehttp.Client
	baseURL string
}

// NewWorkerClient builds the client. transport is the instrumented round
// tripper chain; nil keeps the retryablehttp default.
func NewWorkerClient(cfg config.WorkerConfig, transport http.RoundTripper, logger *logrus.Logger) *WorkerClient {
	c := retryablehttp.NewClient()
	c.RetryMax = cfg.RetryMax
	c.RetryWaitMin = retryWaitMin
	c.RetryWaitMax = retryWaitMax
	c.Logger = nil
	c.CheckRetry = retryTransportErrors
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if transport != nil {
		c.HTTPClient.Transport = transport
	}
	c.HTTPClient.Timeout = cfg.Timeout

	c.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt == 0 {
			return
		}
		if span := telemetry.ActiveSpan(req.Context()); span != nil {
			span.AddEvent("worker.retry", attribute.Int("attempt", attempt))
		}
		if logger != nil {
			logger.WithContext(req.Context()).WithFields(logrus.Fields{
				"attempt": attempt,
				"url":     req.URL.String(),
			}).Warn("retrying worker request")
		}
	}

	return &WorkerClient{
		client:  c,
		baseURL: strings.TrimRight(cfg.URL, "/"),
	}
}

func retryTransportErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return false, nil
}

// Work calls GET /work and returns the worker's status code.
func (c *WorkerClient) Work(ctx context.Context) (int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+workPath, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build worker request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("worker unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
