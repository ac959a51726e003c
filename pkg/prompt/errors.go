package prompt

import "errors"

var (
	ErrInvalidConfiguration = errors.New("prompt.errors.invalid_configuration")
	ErrFailedToDeliver      = errors.New("prompt.errors.failed_to_deliver")
)
