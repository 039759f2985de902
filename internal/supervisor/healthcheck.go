package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sysg-dev/sysg/internal/config"
)

// ProbeHealth issues a GET to hc.URL, retrying up to hc.Retries times,
// with the whole attempt bounded by hc.Timeout (spec.md §4.6 step 5). With
// hc.ExpectedStatus unset any 2xx response counts as healthy; when it is
// set, only that exact status does.
func ProbeHealth(ctx context.Context, hc *config.HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, hc.Timeout)
	defer cancel()

	client := &http.Client{}
	attempts := hc.Retries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("health probe timed out: %w", lastErr)
			case <-time.After(100 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.URL, nil)
		if err != nil {
			return fmt.Errorf("build health probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()

		want := hc.ExpectedStatus
		if want == 0 && status >= 200 && status < 300 {
			return nil
		}
		if want != 0 && status == want {
			return nil
		}
		lastErr = fmt.Errorf("unexpected status %d", status)
	}
	return fmt.Errorf("health check failed after %d attempt(s): %w", attempts, lastErr)
}
