package core

import "errors"

var (
	// ErrMethodNotCacheable is returned when a non-GET request is stored.
	ErrMethodNotCacheable = errors.New("request method is not cacheable")
	// ErrBadResponse is returned by AddAll when a response is not OK.
	ErrBadResponse = errors.New("bad response status")
	// ErrInvalidConfig is returned for a rejected worker configuration.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrResponseTooLarge is returned when a response body exceeds the
	// fetcher's limit.
	ErrResponseTooLarge = errors.New("response body too large")
	// ErrNilResponse is returned when a nil response is stored.
	ErrNilResponse = errors.New("nil response")
)
