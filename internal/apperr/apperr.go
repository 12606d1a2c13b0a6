// Package apperr defines the error kinds shared across the catalog,
// service and transport layers. Callers wrap these with pkg/errors for
// context and match them at the boundary with errors.Is.
package apperr

import "github.com/pkg/errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrBadRequest          = errors.New("bad request")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrStoreUnavailable    = errors.New("store unavailable")
)
