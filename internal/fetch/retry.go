package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/logger"
)

// maxBackoff caps the doubling retry delay
const maxBackoff = 2 * time.Minute

// FetchError is returned when a remote request could not be completed after
// all retries
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is an unexpected HTTP status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// retryable reports whether a status is worth another attempt
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// retrier performs HTTP requests with exponential backoff
type retrier struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration
}

// do runs the request built by newReq until it returns 200, a non-retryable
// status, or retries run out. The body of a successful response is returned.
func (r *retrier) do(ctx context.Context, url string, newReq func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	log := logger.Named("fetch")
	delay := r.retryDelay
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			log.Warn("Retrying request",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxBackoff {
				delay = maxBackoff
			}
		}
		attempts++

		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", r.userAgent)

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		statusErr := &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
		if !retryable(resp.StatusCode) {
			return nil, &FetchError{URL: url, Attempts: attempts, Err: statusErr}
		}
		lastErr = statusErr
	}

	return nil, &FetchError{URL: url, Attempts: attempts, Err: lastErr}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
