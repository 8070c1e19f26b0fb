package services

import (
	"errors"
	"fmt"

	"github.com/mailzero/mailzero/internal/mail"
)

// Standard service errors. Remote failures share their sentinels with the
// mail package so adapter errors match here too.
var (
	// Network and connectivity errors
	ErrNetworkUnavailable = mail.ErrNetworkUnavailable
	ErrTimeout            = mail.ErrTimeout
	ErrUnauthorized       = mail.ErrUnauthorized

	// Data errors
	ErrNotFound     = mail.ErrNotFound
	ErrInvalidInput = errors.New("invalid input provided")

	// Service errors
	ErrServiceUnavailable = mail.ErrServiceUnavailable
	ErrRateLimited        = mail.ErrRateLimited

	// Bulk action errors
	ErrNothingSelected      = errors.New("no threads selected")
	ErrDestinationForbidden = errors.New("destination not available for folder")
)

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrRateLimited)
}

// failureMessage is the notification text for a failed user action
func failureMessage(action string, err error) string {
	if IsRetryableError(err) {
		return fmt.Sprintf("Failed to %s, try again in a moment", action)
	}
	return fmt.Sprintf("Failed to %s: %v", action, err)
}
