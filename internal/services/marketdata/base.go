// Package marketdata holds the upstream provider adapters. Each adapter
// hides its provider's transport quirks and reports every failure as
// domain.ErrUpstreamUnavailable.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"CapitalDash/internal/domain"
	"CapitalDash/internal/domain/repository"
	xhttp "CapitalDash/pkg/http"
	xlogger "CapitalDash/pkg/logger"
)

// DefaultUserAgent is sent to providers that reject non-browser clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// HTTPServiceBase centralizes request timing, metrics, retries and error
// classification for the provider adapters.
type HTTPServiceBase struct {
	provider string
	client   *xhttp.Client
	timeout  time.Duration
	attempts int
	metrics  repository.Metrics
	logger   *xlogger.Logger
}

func NewHTTPServiceBase(provider string, client *xhttp.Client, timeout time.Duration, attempts int, m repository.Metrics, l *xlogger.Logger) *HTTPServiceBase {
	if attempts < 1 {
		attempts = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPServiceBase{provider: provider, client: client, timeout: timeout, attempts: attempts, metrics: m, logger: l}
}

// Do sends one request under the adapter timeout and classifies failures.
func (b *HTTPServiceBase) Do(ctx context.Context, opts *xhttp.RequestOptions, dest interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	err := b.client.SendAndParse(ctx, opts, dest)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if b.metrics != nil {
		b.metrics.RecordUpstream(b.provider, outcome, time.Since(start).Seconds())
	}
	if err != nil {
		return b.unavailable(err)
	}
	return nil
}

// DoWithRetry retries transient failures with linear backoff. Client errors
// other than 408 and 429 are not retried.
func (b *HTTPServiceBase) DoWithRetry(ctx context.Context, opts *xhttp.RequestOptions, dest interface{}) error {
	var err error
	for i := 1; i <= b.attempts; i++ {
		err = b.Do(ctx, opts, dest)
		if err == nil || !retryable(err) || i == b.attempts {
			break
		}
		if b.logger != nil {
			b.logger.Debug("retrying upstream call",
				xlogger.String("provider", b.provider),
				xlogger.Int("attempt", i),
				xlogger.Error(err),
			)
		}
		select {
		case <-time.After(time.Duration(i) * 200 * time.Millisecond):
		case <-ctx.Done():
			return b.unavailable(ctx.Err())
		}
	}
	return err
}

func (b *HTTPServiceBase) unavailable(err error) error {
	return fmt.Errorf("%s: %w: %w", b.provider, domain.ErrUpstreamUnavailable, err)
}

// Unavailable wraps a parse or content failure found after a successful call.
func (b *HTTPServiceBase) Unavailable(format string, a ...interface{}) error {
	return b.unavailable(fmt.Errorf(format, a...))
}

func retryable(err error) bool {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout
	}
	return true
}

// StatusCode extracts the HTTP status of a failed call, 0 when there was none.
func StatusCode(err error) int {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Cookie returns the value of a cookie the client holds for rawURL.
func (b *HTTPServiceBase) Cookie(rawURL, name string) string {
	for _, c := range b.client.Cookies(rawURL) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
