package domain

import "errors"

var (
	ErrPolicyNotFound     = errors.New("rate limit policy not found")
	ErrInvalidPolicy      = errors.New("invalid rate limit policy")
	ErrBackendUnavailable = errors.New("counter backend unavailable")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
)
