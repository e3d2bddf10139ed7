package domain

import "errors"

var (
	ErrChannelNotFound  = errors.New("channel not found")
	ErrCategoryNotFound = errors.New("category not found")

	// ErrUpstreamUnavailable means the event source cannot be reached or is not configured.
	// Tracking degrades to a no-op until the next successful start.
	ErrUpstreamUnavailable = errors.New("upstream event source unavailable")

	// ErrPersistence wraps store failures. The triggering operation must fail and
	// the in-memory registry must stay at its previous value.
	ErrPersistence = errors.New("persistence failure")

	// ErrDeliveryFailed is only ever logged and counted.
	ErrDeliveryFailed = errors.New("notification delivery failed")
)
