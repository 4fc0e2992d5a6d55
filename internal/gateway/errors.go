package gateway

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Authentication errors
var (
	ErrNoToken      = errors.New("no authentication token on request")
	ErrInvalidToken = errors.New("invalid authentication token")
)
