package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/katosuite/usagekit/pkg/entitlement"
)

// Config holds accounting client settings.
type Config struct {
	BaseURL        string        `env:"ACCOUNTING_BASE_URL,required"`                 // BaseURL is the root URL of the accounting service, e.g. https://usage.internal:8080
	RequestTimeout time.Duration `env:"ACCOUNTING_REQUEST_TIMEOUT" envDefault:"10s"` // RequestTimeout bounds each HTTP call.
}

// Client is an HTTP client for the remote accounting service. It implements
// entitlement.AccountingClient. Outbound calls go through a circuit breaker
// so a failing backend degrades to fast local errors instead of piling up
// blocked requests.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

var _ entitlement.AccountingClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client, e.g. with extra transport
// middleware. Nil clients are ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithBreaker replaces the default circuit breaker, e.g. to share one breaker
// across clients or tune trip thresholds.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) Option {
	return func(cl *Client) {
		if cb != nil {
			cl.breaker = cb
		}
	}
}

// NewClient creates an accounting client for the given base URL and token
// source.
func NewClient(cfg Config, tokens TokenSource, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if tokens == nil {
		tokens = StaticTokenSource("")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "accounting",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// usageResponse mirrors the accounting service's snapshot payload.
type usageResponse struct {
	Usage map[string]struct {
		Used int64 `json:"used"`
	} `json:"usage"`
}

// incrementRequest is the POST body for usage increments.
type incrementRequest struct {
	Resource string `json:"resource"`
	Amount   int64  `json:"amount"`
}

// incrementResponse carries the authoritative new total after an increment.
type incrementResponse struct {
	Resource string `json:"resource"`
	Used     int64  `json:"used"`
}

// FetchUsage retrieves the caller's usage snapshot.
func (c *Client) FetchUsage(ctx context.Context) (entitlement.Snapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/usage", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	var payload usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Join(ErrInvalidResponse, err)
	}

	snapshot := make(entitlement.Snapshot, len(payload.Usage))
	for res, entry := range payload.Usage {
		snapshot[entitlement.Resource(res)] = entry.Used
	}
	return snapshot, nil
}

// Increment records consumption and returns the authoritative new total for
// the resource. Each call carries a client-generated Idempotency-Key so a
// retried request cannot double-count.
func (c *Client) Increment(ctx context.Context, res entitlement.Resource, amount int64) (int64, error) {
	body, err := json.Marshal(incrementRequest{Resource: string(res), Amount: amount})
	if err != nil {
		return 0, errors.Join(ErrRequestFailed, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/usage/increment", body, uuid.NewString())
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	var payload incrementResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, errors.Join(ErrInvalidResponse, err)
	}
	return payload.Used, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, errors.Join(ErrNotAuthenticated, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		// 5xx counts as a breaker failure; 4xx is a caller problem and
		// must not trip the circuit.
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close() //nolint:errcheck
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.Join(ErrServiceUnavailable, err)
		}
		return nil, errors.Join(ErrRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		status := resp.StatusCode
		resp.Body.Close() //nolint:errcheck
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %d", ErrNotAuthenticated, status)
		}
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
	return resp, nil
}
