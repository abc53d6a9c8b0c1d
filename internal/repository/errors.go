// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as handlers
// to distinguish between different failure scenarios without inspecting
// driver-specific errors.
package repository

import "errors"

// ErrEmailExists is returned when an insert violates the unique email
// constraint. Handlers should translate this into HTTP 409.
var ErrEmailExists = errors.New("email already exists")

// ErrNotFound is returned when a requested row does not exist (or is
// soft-deleted). Handlers should translate this into HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrTokenRotated is returned when a conditional refresh-token rotation
// matches no row: the stored token changed between verification and the
// update, meaning a concurrent rotation won. Handlers should treat this the
// same as any other invalid refresh token.
var ErrTokenRotated = errors.New("refresh token superseded")
