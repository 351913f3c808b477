// Package store defines the error kinds shared by the storage backends.
// Callers dispatch on these sentinels instead of inspecting backend error
// types.
package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist or has expired.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned by conditional creates when the key is taken.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrRateLimited is returned when a point budget is exhausted for the window.
	ErrRateLimited = errors.New("rate limited")
)
