// Package util provides utility functions and common error types.
package util

import "errors"

// Sentinel errors shared across the agent
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidConfig = errors.New("invalid configuration")
)
