// Package esri talks to ArcGIS REST feature services (FeatureServer and
// MapServer layers).
package esri

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

// Config holds the HTTP and retry settings.
type Config struct {
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Token           string
}

// DefaultConfig returns the default client settings.
func DefaultConfig() Config {
	return Config{
		Timeout:         60 * time.Second,
		MaxRetries:      5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// maxResponseBytes caps a single response body.
const maxResponseBytes = 256 << 20

// Factory implements output.FeatureServiceFactory.
type Factory struct {
	client  *http.Client
	cfg     Config
	metrics output.MetricsCollector
	logger  *slog.Logger
}

var _ output.FeatureServiceFactory = (*Factory)(nil)

// NewFactory creates a new service factory.
func NewFactory(cfg Config, metrics output.MetricsCollector, logger *slog.Logger) *Factory {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// NewService implements output.FeatureServiceFactory. A trailing /query is
// accepted and dropped.
func (f *Factory) NewService(rawURL string) (output.FeatureService, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &domain.ConfigError{Field: "uri", Message: fmt.Sprintf("%q is not an http(s) service URL", rawURL)}
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/query")
	u.RawQuery = ""
	return &Service{base: u, factory: f}, nil
}

// retryableError marks a failure worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// errorEnvelope is the error body ArcGIS returns with HTTP 200.
type errorEnvelope struct {
	Error *struct {
		Code    int      `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

func (f *Factory) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialInterval
	b.MaxInterval = f.cfg.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, f.cfg.MaxRetries), ctx)
}

// getJSON fetches u and decodes the body into out. Network errors, 429 and
// 5xx responses are retried; once retries are exhausted the error is a
// TransientIOError. Error bodies and undecodable JSON wrap
// ErrMalformedResponse.
func (f *Factory) getJSON(ctx context.Context, operation string, u *url.URL, out interface{}) error {
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return &retryableError{err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &retryableError{err: fmt.Errorf("HTTP %d", resp.StatusCode)}
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%s: %w", u.Path, domain.ErrNotFound))
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrMalformedResponse))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return &retryableError{err: fmt.Errorf("reading body: %w", err)}
		}

		var env errorEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w: %w", domain.ErrMalformedResponse, err))
		}
		if env.Error != nil {
			err := fmt.Errorf("service error %d: %s", env.Error.Code, env.Error.Message)
			if env.Error.Code == http.StatusTooManyRequests || env.Error.Code >= 500 {
				return &retryableError{err: err}
			}
			return backoff.Permanent(fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w: %w", domain.ErrMalformedResponse, err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		f.metrics.IncRetry(operation)
		f.logger.Debug("retrying service request",
			"operation", operation,
			"url", u.Redacted(),
			"wait", wait,
			"error", err,
		)
	}

	start := time.Now()
	err := backoff.RetryNotify(attempt, f.newBackOff(ctx), notify)
	f.metrics.IncStorageOperations(operation, err == nil)
	f.metrics.ObserveStorageDuration(operation, time.Since(start))
	if err == nil {
		return nil
	}

	var retryable *retryableError
	if errors.As(err, &retryable) {
		return &domain.TransientIOError{Operation: operation, Err: retryable.err}
	}
	return err
}

// endpoint returns base plus an optional sub path and query, with f=json
// and the token set.
func (f *Factory) endpoint(base *url.URL, sub string, query url.Values) *url.URL {
	u := *base
	if sub != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + sub
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("f", "json")
	if f.cfg.Token != "" {
		query.Set("token", f.cfg.Token)
	}
	u.RawQuery = query.Encode()
	return &u
}
