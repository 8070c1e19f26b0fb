package gmail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/mailzero/mailzero/internal/mail"
	"google.golang.org/api/googleapi"
)

// mapError wraps API and transport failures so callers can test them against
// the mail sentinels. The original error stays in the chain.
func mapError(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		if sentinel := transportSentinel(err); sentinel != nil {
			return fmt.Errorf("%s: %w: %w", op, sentinel, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var sentinel error
	switch {
	case gerr.Code == http.StatusUnauthorized:
		sentinel = mail.ErrUnauthorized
	case gerr.Code == http.StatusForbidden && isRateLimitReason(gerr):
		sentinel = mail.ErrRateLimited
	case gerr.Code == http.StatusForbidden:
		sentinel = mail.ErrUnauthorized
	case gerr.Code == http.StatusNotFound:
		sentinel = mail.ErrNotFound
	case gerr.Code == http.StatusTooManyRequests:
		sentinel = mail.ErrRateLimited
	case gerr.Code >= 500:
		sentinel = mail.ErrServiceUnavailable
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %s", op, sentinel, gerr.Message)
}

// transportSentinel classifies failures that never reached the API.
// Cancellation is left alone so callers still see context.Canceled.
func transportSentinel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return mail.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return mail.ErrTimeout
	}
	var urlErr *url.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return mail.ErrNetworkUnavailable
	}
	return nil
}

func isRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}
