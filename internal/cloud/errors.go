package cloud

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds. Every CloudError carries exactly one of them and can be matched with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("resource not found")
	ErrState         = errors.New("resource in error state")
	ErrTimeout       = errors.New("timed out waiting for resource")
	ErrRateLimit     = errors.New("rate limit exceeded")
)

// CloudError is the general failure surfaced to the orchestrator.
type CloudError struct {
	Kind    error  // one of the Err* kinds above
	Message string // user-facing description

	// Set by resource waits.
	Description  string
	TargetStates []string
	Elapsed      time.Duration

	Cause error // underlying provider error, if any
}

func (e *CloudError) Error() string {
	return e.Message
}

func (e *CloudError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewError builds a CloudError of the given kind with a formatted message.
func NewError(kind error, format string, args ...any) *CloudError {
	return &CloudError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports options that are missing or invalid.
func ConfigurationError(format string, args ...any) *CloudError {
	return NewError(ErrConfiguration, format, args...)
}

// NotFoundError reports a resource that must exist but does not.
func NotFoundError(format string, args ...any) *CloudError {
	return NewError(ErrNotFound, format, args...)
}

// StateError reports a resource observed in a state that forbids the operation.
func StateError(format string, args ...any) *CloudError {
	return NewError(ErrState, format, args...)
}

// IsCloudError reports whether err is, or wraps, a CloudError.
func IsCloudError(err error) bool {
	var ce *CloudError
	return errors.As(err, &ce)
}

// VMCreationFailedError signals that creating a server failed while waiting for it to
// become active. OkToRetry tells the orchestrator the whole create can be retried.
type VMCreationFailedError struct {
	OkToRetry bool
	Cause     error
}

func (e *VMCreationFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("VM creation failed: %v", e.Cause)
	}
	return "VM creation failed"
}

func (e *VMCreationFailedError) Unwrap() error {
	return e.Cause
}

// JoinStates renders a target state set the way it appears in error messages.
func JoinStates(states []string) string {
	return strings.Join(states, ", ")
}
