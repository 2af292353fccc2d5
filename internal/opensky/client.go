package opensky

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetcher is the pull-side contract the acquisition engine depends on.
type Fetcher interface {
	FetchStates(ctx context.Context, ids []string) (*ParseResult, error)
}

// Client pulls state vectors over HTTP. One instance is shared by every
// session; the embedded limiter paces outbound requests independently of the
// quota windows, which meter them.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     *zap.Logger
}

func NewClient(baseURL, username, password string, ratePerSec int, timeout time.Duration, logger *zap.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	if ratePerSec < 1 {
		ratePerSec = 1
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    baseURL,
		username:   username,
		password:   password,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		timeout:    timeout,
		logger:     logger,
	}
}

// FetchStates requests current state vectors for the given transponder
// addresses. It performs exactly one attempt; retry policy lives with the
// caller. Per-record parse failures are reported via the result counters,
// never as an error.
func (c *Client) FetchStates(ctx context.Context, ids []string) (*ParseResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	for _, id := range ids {
		q.Add("icao24", id)
	}
	reqURL := fmt.Sprintf("%s/api/states/all?%s", c.baseURL, q.Encode())
	c.logger.Debug("fetching states", zap.Int("ids", len(ids)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
		req.Header.Set("Authorization", "Basic "+cred)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("reading response: %w", readErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrAuthFailed
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	result, err := ParseStates(body, time.Now())
	if err != nil {
		return nil, err
	}

	if result.Malformed > 0 || result.NoPosition > 0 {
		c.logger.Debug("dropped records",
			zap.Int("malformed", result.Malformed),
			zap.Int("no_position", result.NoPosition),
		)
	}
	return result, nil
}

// classifyTransportErr maps low-level request failures onto the error
// taxonomy: deadline overruns stay recognizable as timeouts, everything else
// surfaces as a plain network failure.
func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request timed out: %w", context.DeadlineExceeded)
	}
	return fmt.Errorf("executing request: %w", err)
}
