package domain

import (
	"errors"
	"fmt"
)

// NoRouteError means no eligible strategy can address the recipient.
type NoRouteError struct {
	Recipient string
	Hint      DeliveryHint
}

func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no route to %q (hint %s)", e.Recipient, e.Hint)
}

// TransientDeliveryError marks a recoverable strategy failure. The router
// retries the same strategy before falling back.
type TransientDeliveryError struct {
	Strategy string
	Err      error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Strategy, e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PermanentDeliveryError marks a failure that retrying cannot fix.
type PermanentDeliveryError struct {
	Strategy string
	Err      error
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

func (e *PermanentDeliveryError) Unwrap() error { return e.Err }

// AllStrategiesFailedError is returned once the whole chain is exhausted.
type AllStrategiesFailedError struct {
	Recipient string
	Tried     []string
	Last      error
}

func (e *AllStrategiesFailedError) Error() string {
	return fmt.Sprintf("all strategies failed for %q (tried %v): %v", e.Recipient, e.Tried, e.Last)
}

func (e *AllStrategiesFailedError) Unwrap() error { return e.Last }

// Transient wraps err as retryable for the named strategy.
func Transient(strategy string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientDeliveryError{Strategy: strategy, Err: err}
}

// Permanent wraps err as non-retryable for the named strategy.
func Permanent(strategy string, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentDeliveryError{Strategy: strategy, Err: err}
}

// IsRetryable reports whether err is (or wraps) a TransientDeliveryError.
// Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	var te *TransientDeliveryError
	return errors.As(err, &te)
}
