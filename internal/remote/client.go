// Package remote provides the HTTP client shared by every remote-backed
// provider adapter: bearer-token authentication, retry with exponential
// backoff, and translation of upstream HTTP failures into the gateway's
// error taxonomy.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "files-api-server/3.0"
)

// Client is a retrying HTTP client for one upstream REST API. Credentials
// arrive per request (the gateway forwards client-supplied tokens), so the
// token source is an argument to Do rather than a field.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid real
	// delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// BaseURL returns the API root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TokenSource wraps a request-scoped credential for use with Do. An empty
// token yields a nil source, which Do rejects before any network call.
func TokenSource(creds provider.Credentials) oauth2.TokenSource {
	if creds.Token == "" {
		return nil
	}

	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.Token})
}

// Do executes an HTTP request against the upstream API, retrying transient
// failures. The path is appended to the base URL. Non-2xx terminal
// responses come back as *provider.Error per the shared translation rule:
// 401 is invalid credentials, 404 is not found, everything else is a
// provider interaction failure carrying the upstream message.
//
// The caller must close the response body on success.
func (c *Client) Do(
	ctx context.Context, token oauth2.TokenSource, method, path, contentType string, body io.Reader,
) (*http.Response, error) {
	if token == nil {
		return nil, provider.NewError(provider.ErrMissingCredentials, "no provider credential supplied")
	}

	url := c.baseURL + path

	var attempt int
	for {
		resp, err := c.doOnce(ctx, token, method, url, contentType, body)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, provider.WrapError(provider.ErrProviderInteraction, "request canceled", ctx.Err())
			}

			// Retrying a consumed body would replay garbage.
			if body == nil && attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, provider.WrapError(provider.ErrProviderInteraction, "request canceled", sleepErr)
				}

				attempt++

				continue
			}

			return nil, provider.WrapError(provider.ErrProviderInteraction,
				fmt.Sprintf("%s %s failed", method, path), err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if body == nil && isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, provider.WrapError(provider.ErrProviderInteraction, "request canceled", err)
			}

			attempt++

			continue
		}

		return nil, translateStatus(resp.StatusCode, string(errBody))
	}
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, token oauth2.TokenSource, path string, out any) error {
	resp, err := c.Do(ctx, token, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.WrapError(provider.ErrProviderInteraction, "decoding response", err)
	}

	return nil
}

// DoJSON performs a request with a JSON body and decodes the JSON response
// into out (skipped when out is nil).
func (c *Client) DoJSON(ctx context.Context, token oauth2.TokenSource, method, path string, body io.Reader, out any) error {
	resp, err := c.Do(ctx, token, method, path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.WrapError(provider.ErrProviderInteraction, "decoding response", err)
	}

	return nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, token oauth2.TokenSource, method, url, contentType string, body io.Reader,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	tok.SetAuthHeader(req)
	req.Header.Set("User-Agent", userAgent)

	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff for a retryable response, honoring a
// Retry-After header on 429s.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1)
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
