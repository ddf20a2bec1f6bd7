// Package fetcher implements the upstream fetcher: a retrying HTTP GET
// with a 4xx short-circuit and an attempt × 1s backoff schedule between
// retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const userAgent = "ratingproxy-enrichment/1.0 (+https://ratingproxy.app)"

// ErrorKind classifies why a fetch failed.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrTimeout
	ErrClient4xx
	ErrServer5xx
	ErrNetwork
)

// Error wraps an ErrorKind with the HTTP status code (when applicable)
// and the underlying cause.
type Error struct {
	Kind ErrorKind
	Code int
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrTimeout:
		return "fetcher: upstream timeout"
	case ErrClient4xx:
		return fmt.Sprintf("fetcher: upstream client error %d", e.Code)
	case ErrServer5xx:
		return fmt.Sprintf("fetcher: upstream server error %d", e.Code)
	case ErrNetwork:
		return fmt.Sprintf("fetcher: network error: %v", e.Err)
	default:
		return "fetcher: unknown error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Config controls timeout and retry behavior.
type Config struct {
	Timeout time.Duration
	Retries int
}

// DefaultConfig is the production default: 20s timeout, 3 attempts.
func DefaultConfig() Config {
	return Config{Timeout: 20 * time.Second, Retries: 3}
}

// Fetcher performs GET requests with retry/backoff and never sends
// cookies (no CookieJar is ever attached to its client).
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultConfig().Retries
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Get fetches url, retrying on timeout/network/5xx errors with backoff
// attempt × 1s, up to cfg.Retries total attempts. 4xx responses are
// returned immediately without retry, since they will not succeed on a
// later attempt.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.Retries; attempt++ {
		body, err := f.attempt(ctx, url)
		if err == nil {
			return body, nil
		}

		var fe *Error
		if errors.As(err, &fe) && fe.Kind == ErrClient4xx {
			return nil, err
		}

		lastErr = err
		if attempt == f.cfg.Retries {
			break
		}

		f.logger.Warn("upstream fetch failed, retrying",
			zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, &Error{Kind: ErrNetwork, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return nil, lastErr
}

// Ping performs a single, non-retrying GET against url for health checks
// that need a quick up/down signal rather than Get's full retry
// behavior. Any HTTP response at all, including a 4xx, counts as
// reachable; only a network failure or timeout counts as down.
func (f *Fetcher) Ping(ctx context.Context, url string) (reachable bool, latencyMS int64) {
	start := time.Now()
	_, err := f.attempt(ctx, url)
	latencyMS = time.Since(start).Milliseconds()

	var fe *Error
	if err == nil || (errors.As(err, &fe) && fe.Kind == ErrClient4xx) {
		return true, latencyMS
	}
	return false, latencyMS
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: ErrTimeout, Err: err}
		}
		return nil, &Error{Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &Error{Kind: ErrClient4xx, Code: resp.StatusCode}
	default:
		return nil, &Error{Kind: ErrServer5xx, Code: resp.StatusCode}
	}
}
