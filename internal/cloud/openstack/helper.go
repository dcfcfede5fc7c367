package openstack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/gophercloud/gophercloud/v2"
)

// overLimit is the body of a provider rate-limit response, found under either
// "overLimit" or "overLimitFault".
type overLimit struct {
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Details    string          `json:"details"`
	RetryAfter json.RawMessage `json:"retryAfter"`
	// Some endpoints spell it as the HTTP header.
	RetryAfterHeader json.RawMessage `json:"Retry-After"`
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits with context awareness.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Caller runs provider calls and retries them while the API reports it is over its rate limit.
type Caller struct {
	Config cloud.RetryConfig
	Logger *slog.Logger

	sleep SleepFunc
	now   func() time.Time
}

// NewCaller returns a Caller with the given policy. Zero values fall back to the defaults.
func NewCaller(cfg cloud.RetryConfig, logger *slog.Logger) *Caller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = cloud.DefaultRetryAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{Config: cfg, Logger: logger, sleep: Sleep, now: time.Now}
}

// Do executes operation. Rate-limit responses are retried up to Config.MaxRetries times,
// sleeping the delay suggested by the provider. Any other error is returned unchanged.
func (c *Caller) Do(ctx context.Context, opName string, operation func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}

		limit, limited := parseOverLimit(err)
		if !limited {
			return err
		}

		if limit == nil || attempt >= c.Config.MaxRetries {
			c.Logger.Error("Provider rate limit could not be absorbed",
				"operation", opName,
				"attempts", attempt+1,
				"error", err)
			return &cloud.CloudError{
				Kind:    cloud.ErrRateLimit,
				Message: "Rackspace API Over Limit. Check task debug log for details.",
				Cause:   err,
			}
		}

		wait := c.retryAfter(limit)
		c.Logger.Debug("Provider rate limit reached, scheduling retry",
			"operation", opName,
			"details", fmt.Sprintf("%s - %s", limit.Message, limit.Details),
			"wait", wait,
			"attempt", attempt+1,
			"max_retries", c.Config.MaxRetries)

		if err := c.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s cancelled during rate-limit backoff: %w", opName, err)
		}
	}
}

// retryAfter converts the provider hint into a wait. Numbers are seconds, RFC3339 timestamps
// mean "until then"; anything else uses the configured default.
func (c *Caller) retryAfter(limit *overLimit) time.Duration {
	for _, raw := range []json.RawMessage{limit.RetryAfter, limit.RetryAfterHeader} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}

		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}

		switch v := value.(type) {
		case float64:
			if v >= 0 {
				return time.Duration(v * float64(time.Second))
			}
		case string:
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second
			}
			if at, err := time.Parse(time.RFC3339, v); err == nil {
				return max(at.Sub(c.now()), 0)
			}
		}
	}
	return c.Config.DefaultRetryAfter
}

// parseOverLimit reports whether err is a rate-limit response and, when the body could be
// understood, returns its over-limit structure.
func parseOverLimit(err error) (*overLimit, bool) {
	var codeErr gophercloud.ErrUnexpectedResponseCode
	if !errors.As(err, &codeErr) {
		return nil, false
	}

	switch codeErr.Actual {
	case http.StatusRequestEntityTooLarge, // 413 - legacy over-limit
		http.StatusTooManyRequests: // 429
	default:
		return nil, false
	}

	if len(codeErr.Body) == 0 {
		return nil, true
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(codeErr.Body, &body); err != nil {
		return nil, true
	}

	for _, key := range []string{"overLimit", "overLimitFault"} {
		raw, ok := body[key]
		if !ok {
			continue
		}
		var limit overLimit
		if err := json.Unmarshal(raw, &limit); err != nil {
			return nil, true
		}
		return &limit, true
	}
	return nil, true
}

// isNotFound reports whether err is a provider 404.
func isNotFound(err error) bool {
	var codeErr gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &codeErr) {
		return codeErr.Actual == http.StatusNotFound
	}
	return false
}
