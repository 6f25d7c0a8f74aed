package processorsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/workflow"
	"golang.org/x/time/rate"
)

const maxRetryDelay = 10 * time.Second

type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RatePerSec int
	RetryBase  time.Duration
}

func ClientConfigFromSettings(s config.Settings) ClientConfig {
	return ClientConfig{
		BaseURL:    s.ProcessorBaseURL,
		APIKey:     s.ProcessorAPIKey,
		Timeout:    s.ProcessorTimeout,
		MaxRetries: s.ProcessorMaxRetries,
		RatePerSec: s.ProcessorRatePerSec,
		RetryBase:  500 * time.Millisecond,
	}
}

// Client is a thin paged reader over the processor's /v1/events endpoint.
// It implements workflow.EventSource.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration
	http       *http.Client
	limiter    *rate.Limiter
}

var _ workflow.EventSource = (*Client)(nil)

func NewClient(cfg ClientConfig) *Client {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 20
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		timeout:    timeout,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		http:       &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

// APIError is a non-2xx answer from the processor.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("processor api error %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type eventListResponse struct {
	Object  string            `json:"object"`
	Data    []json.RawMessage `json:"data"`
	HasMore bool              `json:"has_more"`
}

// ListEvents returns up to limit events after the given event id, oldest first.
// Only the types the classifier knows are requested, so ignored counts come
// from webhooks and from sources that do not filter.
func (c *Client) ListEvents(ctx context.Context, account models.ProcessorAccount, after string, limit int) (workflow.EventPage, error) {
	apiKey := c.apiKeyFor(account)
	if apiKey == "" {
		return workflow.EventPage{}, fmt.Errorf("%w: no api key for processor account %d", workflow.ErrProcessorUnavailable, account.ID)
	}
	if limit <= 0 || limit > config.MaxPageSize {
		limit = config.MaxPageSize
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if after != "" {
		params.Set("starting_after", after)
	}
	params["types[]"] = workflow.SupportedEventTypes()

	var parsed eventListResponse
	if err := c.getWithRetry(ctx, "/v1/events", params, apiKey, &parsed); err != nil {
		return workflow.EventPage{}, fmt.Errorf("%w: %v", workflow.ErrProcessorUnavailable, err)
	}

	page := workflow.EventPage{Events: parsed.Data, HasMore: parsed.HasMore}
	if n := len(parsed.Data); n > 0 {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(parsed.Data[n-1], &head); err == nil {
			page.NextCursor = head.ID
		}
	}
	return page, nil
}

// apiKeyFor resolves the account's secret reference. "env:NAME" reads the
// named variable; an empty reference falls back to the service-wide key.
func (c *Client) apiKeyFor(account models.ProcessorAccount) string {
	ref := strings.TrimSpace(account.AuthSecretRef)
	if ref == "" {
		return c.apiKey
	}
	if name, ok := strings.CutPrefix(ref, "env:"); ok {
		return strings.TrimSpace(os.Getenv(name))
	}
	return ref
}

func (c *Client) getWithRetry(ctx context.Context, path string, params url.Values, apiKey string, dest any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.get(ctx, path, params, apiKey, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(ctx, err) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > 0 {
		if apiErr.RetryAfter > maxRetryDelay {
			return maxRetryDelay
		}
		return apiErr.RetryAfter
	}
	d := c.retryBase * time.Duration(1<<min(attempt-1, 5))
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, apiKey string, dest any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if s, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && s > 0 {
			apiErr.RetryAfter = time.Duration(s) * time.Second
		}
		return apiErr
	}
	return json.Unmarshal(body, dest)
}
