package utils

import (
	"context"
	"time"
)

const (
	// DefaultTimeout covers most store writes.
	DefaultTimeout = 10 * time.Second

	// ShortTimeout is for quick operations (cache lookups, status reads).
	ShortTimeout = 2 * time.Second
)

// WithTimeout returns a background context bounded by DefaultTimeout. Used
// for best-effort writes that run outside any request context (status
// updates, snapshot publishes).
func WithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), DefaultTimeout)
}

// WithShortTimeout returns a background context bounded by ShortTimeout.
func WithShortTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ShortTimeout)
}
