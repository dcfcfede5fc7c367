package cloud

import "time"

const (
	// DefaultMaxRetries is the number of extra attempts allowed on a rate-limited call.
	DefaultMaxRetries = 9
	// DefaultRetryAfter is used when the provider does not say how long to back off.
	DefaultRetryAfter = 5 * time.Second
	// DefaultMaxTries is the number of polls a resource wait makes before timing out.
	DefaultMaxTries = 50
	// DefaultMaxSleepExponent caps the polling backoff at 2^5 seconds.
	DefaultMaxSleepExponent = 5
)

// RetryConfig defines how provider calls are retried when the API rate limits us.
// Only rate-limit responses are retried; every other failure is returned to the caller.
type RetryConfig struct {
	// MaxRetries is the maximum number of additional attempts after the initial call.
	// With MaxRetries 9 a call runs at most 10 times.
	MaxRetries int

	// DefaultRetryAfter is the wait used when the over-limit response carries no delay.
	DefaultRetryAfter time.Duration
}

// WaitConfig defines the polling budget used while waiting on a resource state.
type WaitConfig struct {
	// MaxTries is the total number of polls, including the first one.
	MaxTries int

	// MaxSleepExponent caps the exponential backoff (2^n seconds) between polls.
	MaxSleepExponent int
}

// DefaultRetryConfig returns the rate-limit policy used when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		DefaultRetryAfter: DefaultRetryAfter,
	}
}

// DefaultWaitConfig returns the polling policy used when nothing is configured.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		MaxTries:         DefaultMaxTries,
		MaxSleepExponent: DefaultMaxSleepExponent,
	}
}
