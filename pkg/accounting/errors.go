package accounting

import "errors"

// Domain errors for accounting client operations.
var (
	ErrNotAuthenticated   = errors.New("accounting.errors.not_authenticated")
	ErrRequestFailed      = errors.New("accounting.errors.request_failed")
	ErrUnexpectedStatus   = errors.New("accounting.errors.unexpected_status")
	ErrInvalidResponse    = errors.New("accounting.errors.invalid_response")
	ErrServiceUnavailable = errors.New("accounting.errors.service_unavailable")
	ErrMissingBaseURL     = errors.New("accounting.errors.missing_base_url")
)
