package cron

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sysg-dev/sysg/internal/config"
)

// HeartbeatClient pings a dead-man's-switch endpoint after a cron
// invocation completes, reporting success or failure.
type HeartbeatClient struct {
	spec   *config.HeartbeatSpec
	logger *slog.Logger
	client *http.Client
}

// NewHeartbeatClient creates a heartbeat client for spec. Returns nil if
// spec is nil (no heartbeat configured for this service).
func NewHeartbeatClient(spec *config.HeartbeatSpec, logger *slog.Logger) *HeartbeatClient {
	if spec == nil {
		return nil
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HeartbeatClient{
		spec:   spec,
		logger: logger.With("component", "heartbeat"),
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// PingSuccess notifies the success URL that an invocation completed cleanly.
func (h *HeartbeatClient) PingSuccess(ctx context.Context) error {
	if h == nil || h.spec.SuccessURL == "" {
		return nil
	}
	return h.ping(ctx, h.spec.SuccessURL, "")
}

// PingFailure notifies the failure URL with a short error message.
func (h *HeartbeatClient) PingFailure(ctx context.Context, message string) error {
	if h == nil || h.spec.FailureURL == "" {
		return nil
	}
	return h.ping(ctx, h.spec.FailureURL, message)
}

func (h *HeartbeatClient) ping(ctx context.Context, url, message string) error {
	const retries = 3
	const retryDelay = 5 * time.Second

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := h.doRequest(ctx, url, message); err == nil {
			return nil
		} else {
			lastErr = err
			h.logger.Warn("heartbeat ping failed", "url", url, "attempt", attempt, "error", err)
		}

		if attempt < retries {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return fmt.Errorf("heartbeat ping cancelled: %w", ctx.Err())
			}
		}
	}
	return fmt.Errorf("heartbeat ping failed after %d attempts: %w", retries, lastErr)
}

func (h *HeartbeatClient) doRequest(ctx context.Context, url, message string) error {
	var body io.Reader
	if message != "" {
		body = strings.NewReader(message)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build heartbeat request: %w", err)
	}
	if message != "" {
		req.Header.Set("Content-Type", "text/plain")
	}
	for k, v := range h.spec.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", "sysg/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections held by the heartbeat client.
func (h *HeartbeatClient) Close() error {
	if h == nil {
		return nil
	}
	h.client.CloseIdleConnections()
	return nil
}
