package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

const (
	// DefaultTimeout bounds every outbound provider request.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is requests per second per provider.
	DefaultRateLimit = 5.0

	maxRetries    = 2
	maxRetryAfter = time.Minute
	maxErrorBody  = 64 << 10
)

// Options configure outbound calls for a connector.
type Options struct {
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// RateLimit is the sustained requests per second. Zero means DefaultRateLimit.
	RateLimit float64

	// Burst is the token bucket size. Zero means 2x the rate, at least 1.
	Burst int

	// Base is the underlying transport. Nil means http.DefaultTransport.
	Base http.RoundTripper
}

// Transport is a provider's shared, rate-limited HTTP stack. Every request a
// connector makes, including token exchanges and SDK calls, goes through it.
type Transport struct {
	provider domain.IntegrationType
	client   *http.Client
	limiter  *rate.Limiter
}

// NewTransport builds the HTTP stack for one provider.
func NewTransport(provider domain.IntegrationType, opts Options) *Transport {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.RateLimit*2))
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)
	return &Transport{
		provider: provider,
		limiter:  limiter,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &limitedRoundTripper{base: base, limiter: limiter},
		},
	}
}

// Provider returns the provider the transport serves.
func (t *Transport) Provider() domain.IntegrationType {
	return t.provider
}

// HTTPClient returns the rate-limited client.
func (t *Transport) HTTPClient() *http.Client {
	return t.client
}

// Context attaches the client so golang.org/x/oauth2 uses it for token calls.
func (t *Transport) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, t.client)
}

// Bearer returns an API client that authenticates with an access token.
func (t *Transport) Bearer(baseURL, accessToken string) *APIClient {
	c := t.API(t.client, baseURL)
	c.header.Set("Authorization", "Bearer "+accessToken)
	return c
}

// API returns an API client over an already authenticating http.Client,
// such as an OAuth 1.0a signing client.
func (t *Transport) API(client *http.Client, baseURL string) *APIClient {
	header := make(http.Header)
	header.Set("Accept", "application/json")
	return &APIClient{
		provider: t.provider,
		client:   client,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		header:   header,
	}
}

// limitedRoundTripper waits on the provider's token bucket before each request.
type limitedRoundTripper struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (rt *limitedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return rt.base.RoundTrip(req)
}

// APIClient issues JSON requests against one provider API.
type APIClient struct {
	provider domain.IntegrationType
	client   *http.Client
	baseURL  string
	header   http.Header
}

// SetHeader sets a header sent with every request.
func (c *APIClient) SetHeader(key, value string) *APIClient {
	c.header.Set(key, value)
	return c
}

// Get decodes a GET response into out.
func (c *APIClient) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends body as JSON and decodes the response into out.
func (c *APIClient) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Do performs a request. A path starting with "http" is used as-is; anything
// else is joined to the base URL. Non-2xx responses return *domain.ProviderError.
func (c *APIClient) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	raw, err := c.Raw(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.provider.DisplayName(), err)
	}
	return nil
}

// Raw performs a request and returns the response body unparsed.
func (c *APIClient) Raw(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimPrefix(path, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader = http.NoBody
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		for k, v := range c.header {
			req.Header[k] = v
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request: %w", c.provider.DisplayName(), err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", c.provider.DisplayName(), err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries {
			wait := retryAfter(resp.Header.Get("Retry-After"), attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			if len(data) > maxErrorBody {
				data = data[:maxErrorBody]
			}
			return nil, &domain.ProviderError{
				Provider:   c.provider,
				StatusCode: resp.StatusCode,
				Body:       string(data),
			}
		}
		return data, nil
	}
}

// retryAfter reads a Retry-After header in seconds, falling back to a
// linear backoff.
func retryAfter(header string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		return min(time.Duration(secs)*time.Second, maxRetryAfter)
	}
	return time.Duration(attempt+1) * time.Second
}
