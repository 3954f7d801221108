package gateway

import (
	"fmt"
	"strings"
)

// RequirePrefix validates that a provider reference carries the expected
// prefix. Customer, card, token and order references are not interchangeable;
// passing the wrong one is a bug in the caller, so the error is ErrValidation
// and must not be retried.
func RequirePrefix(ref, prefix, what string) error {
	if !strings.HasPrefix(ref, prefix) || len(ref) <= len(prefix) {
		return fmt.Errorf("%w: %s %q must start with %q", ErrValidation, what, ref, prefix)
	}
	return nil
}

// ValidateAmount rejects amounts that are not a positive number of minor
// currency units before any provider call is made.
func ValidateAmount(cents int64) error {
	if cents <= 0 {
		return fmt.Errorf("%w: amount must be a positive integer of cents, got %d", ErrValidation, cents)
	}
	return nil
}
