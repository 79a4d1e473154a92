package combine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/stitch/internal/utils"
	"golang.org/x/time/rate"
)

// ProgressFunc receives (loaded, total) for one transfer. It is only called
// when the total is known.
type ProgressFunc func(loaded, total int64)

// Transport fetches the full body behind a location.
type Transport interface {
	Fetch(ctx context.Context, location string, onProgress ProgressFunc) ([]byte, error)
}

var (
	ErrNotFound     = fmt.Errorf("%w: resource not found", ErrTransport)
	ErrForbidden    = fmt.Errorf("%w: access forbidden", ErrTransport)
	ErrUnauthorized = fmt.Errorf("%w: unauthorized", ErrTransport)
	ErrServerError  = fmt.Errorf("%w: server error", ErrTransport)
	ErrShortBody    = fmt.Errorf("%w: body length mismatch", ErrTransport)
)

// permanentError marks failures that another attempt will not fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func retryable(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

type HTTPTransport struct {
	client  utils.HTTPDoer
	retry   utils.RetryConfig
	limiter *rate.Limiter
}

type HTTPOption func(*HTTPTransport)

// WithRetry overrides the retry policy. Zero fields keep their defaults.
func WithRetry(cfg utils.RetryConfig) HTTPOption {
	return func(t *HTTPTransport) {
		if cfg.Attempts > 0 {
			t.retry.Attempts = cfg.Attempts
		}
		if cfg.Backoff > 0 {
			t.retry.Backoff = cfg.Backoff
		}
		if cfg.MaxBackoff > 0 {
			t.retry.MaxBackoff = cfg.MaxBackoff
		}
	}
}

// WithRateLimit caps the transfer rate shared by every fetch of this transport.
func WithRateLimit(bytesPerSecond int64) HTTPOption {
	return func(t *HTTPTransport) {
		t.limiter = newLimiter(bytesPerSecond)
	}
}

func NewHTTPTransport(client utils.HTTPDoer, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		client: client,
		retry: utils.RetryConfig{
			Attempts:   utils.DefaultRetryAttempts,
			Backoff:    utils.DefaultRetryBackoff,
			MaxBackoff: utils.DefaultRetryMaxBackoff,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) Fetch(ctx context.Context, location string, onProgress ProgressFunc) ([]byte, error) {
	var lastErr error
	for attempt := range t.retry.Attempts {
		if attempt > 0 {
			log.Warn().Str("op", "combine/transport").Msgf("Retrying %s (attempt %d/%d)", location, attempt+1, t.retry.Attempts)
			if err := backoff(ctx, t.retry, attempt); err != nil {
				return nil, err
			}
		}
		data, err := t.fetchOnce(ctx, location, onProgress)
		if err == nil {
			return data, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		log.Debug().Str("op", "combine/transport").Err(err).Msgf("Fetch attempt %d failed", attempt+1)
	}
	return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", location, t.retry.Attempts, lastErr)
}

func (t *HTTPTransport) fetchOnce(ctx context.Context, location string, onProgress ProgressFunc) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, permanent(fmt.Errorf("%w: create request: %v", ErrTransport, err))
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, err
	}
	return readBody(ctx, resp.Body, resp.ContentLength, t.limiter, onProgress)
}

// readBody drains body, reporting progress after every read when total is known.
func readBody(ctx context.Context, body io.Reader, total int64, limiter *rate.Limiter, onProgress ProgressFunc) ([]byte, error) {
	var out bytes.Buffer
	if total > 0 {
		out.Grow(int(total))
	}
	buffer := make([]byte, utils.DefaultBufferSize)
	var loaded int64
	for {
		bytesRead, readErr := body.Read(buffer)
		if bytesRead > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, bytesRead); err != nil {
					return nil, err
				}
			}
			out.Write(buffer[:bytesRead])
			loaded += int64(bytesRead)
			if total > 0 && onProgress != nil {
				onProgress(loaded, total)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: read body: %v", ErrTransport, readErr)
		}
	}
	if total > 0 && loaded != total {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrShortBody, total, loaded)
	}
	return out.Bytes(), nil
}

func newLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := max(int(bytesPerSecond), utils.DefaultBufferSize)
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// backoff waits for an exponentially increasing duration with jitter.
func backoff(ctx context.Context, cfg utils.RetryConfig, attempt int) error {
	wait := cfg.Backoff * time.Duration(1<<uint(attempt-1))
	if wait > cfg.MaxBackoff {
		wait = cfg.MaxBackoff
	}
	jitter := time.Duration(float64(wait) * (0.5 + rand.Float64()))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return permanent(ErrNotFound)
	case code == http.StatusForbidden:
		return permanent(ErrForbidden)
	case code == http.StatusUnauthorized:
		return permanent(ErrUnauthorized)
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	default:
		return permanent(fmt.Errorf("%w: unexpected status code %d", ErrTransport, code))
	}
}

// Router picks a transport by URL scheme.
type Router struct {
	schemes map[string]Transport
}

func NewRouter() *Router {
	return &Router{schemes: make(map[string]Transport)}
}

func (r *Router) Handle(scheme string, t Transport) *Router {
	r.schemes[strings.ToLower(scheme)] = t
	return r
}

func (r *Router) Fetch(ctx context.Context, location string, onProgress ProgressFunc) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	t, ok := r.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrTransport, utils.ErrUnsupportedScheme, u.Scheme)
	}
	return t.Fetch(ctx, location, onProgress)
}
