// Package apperr defines the sentinel errors shared by drivers, services and handlers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyExists    = errors.New("already exists")
	ErrPermissionDenied = errors.New("permission denied")
	ErrFolderConflict   = errors.New("folder conflicts with existing file")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// Narrower not-found errors. Both match ErrNotFound with errors.Is.
var (
	ErrStorageNotFound = fmt.Errorf("storage %w", ErrNotFound)
	ErrFolderNotFound  = fmt.Errorf("folder %w", ErrNotFound)
)
