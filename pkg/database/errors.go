package database

import "errors"

var (
	// ErrAlreadyExists is returned by Create when the store is already present
	ErrAlreadyExists = errors.New("database already exists")

	// ErrDuplicateArchiveRecord is returned when an archive record with the
	// same timestamp is already stored
	ErrDuplicateArchiveRecord = errors.New("duplicate archive record")

	// ErrUnsupportedDriver is returned for an unknown Config.Driver
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)
