package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidJob      = errors.New("invalid job")
	ErrProviderFailure = errors.New("provider failure")
)
