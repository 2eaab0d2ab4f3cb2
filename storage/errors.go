package storage

import "errors"

var (
	ErrNotFound         = errors.New("file not found")
	ErrTooManyOpenFiles = errors.New("too many open files")
	ErrInvalidHandle    = errors.New("invalid file handle")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrAllocationFailed = errors.New("allocation failed")
	ErrCorrupt          = errors.New("storage is corrupt")
)
