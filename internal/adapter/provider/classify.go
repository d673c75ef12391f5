package provider

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
)

// ClassifyStatus maps a vendor HTTP status code to the shared FailureClass
// taxonomy (spec.md §4.1's deterministic status table).
func ClassifyStatus(status int) domain.FailureClass {
	switch status {
	case http.StatusTooManyRequests:
		return domain.ClassRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.ClassTimeout
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		return domain.ClassFatal
	}
	if status >= 500 {
		return domain.ClassProviderDown
	}
	return domain.ClassFatal
}

// ClassifyTransport maps a transport-level (non-HTTP-status) error to a
// FailureClass: context deadlines and net.Error timeouts are Timeout,
// connection resets and EOF-on-connect are ProviderDown, everything else
// defaults to ProviderDown since it indicates the vendor is unreachable.
func ClassifyTransport(err error) domain.FailureClass {
	if err == nil {
		return domain.ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ClassTimeout
	}
	if errors.Is(err, net.ErrClosed) {
		return domain.ClassProviderDown
	}
	return domain.ClassProviderDown
}
