// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrUninitialized is returned by a registry used before Init.
	ErrUninitialized = errors.New("registry is not initialized")
	// ErrInvalidFile is returned when a template without a path is added.
	ErrInvalidFile = errors.New("file has no path")
	// ErrRenderFailed signals that a compile produced no output.
	ErrRenderFailed = errors.New("render failed")
)
