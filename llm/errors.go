package llm

import "errors"

// classified attaches a retry disposition to an upstream failure. The
// client wraps every transport and provider error exactly once.
type classified struct {
	err       error
	retryable bool
}

func (c *classified) Error() string { return c.err.Error() }

func (c *classified) Unwrap() error { return c.err }

// NewTransientError marks err as worth retrying: timeouts, rate limits,
// upstream 5xx responses.
func NewTransientError(err error) error {
	return &classified{err: err, retryable: true}
}

// NewFatalError marks err as permanent: bad credentials, malformed
// requests, unknown providers.
func NewFatalError(err error) error {
	return &classified{err: err, retryable: false}
}

// IsTransient reports whether err should be retried. Unclassified errors
// are not.
func IsTransient(err error) bool {
	var c *classified
	return errors.As(err, &c) && c.retryable
}

// IsFatal reports whether err fails the same way on every attempt.
func IsFatal(err error) bool {
	var c *classified
	return errors.As(err, &c) && !c.retryable
}
