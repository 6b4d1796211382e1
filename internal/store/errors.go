package store

import "errors"

var (
	// ErrNotFound is returned when no evolution record has the given ID.
	ErrNotFound = errors.New("evolution record not found")

	// ErrAlreadyExists is returned when a record ID is inserted twice.
	ErrAlreadyExists = errors.New("evolution record already exists")

	// ErrSchemaTooNew is returned when the archive was migrated by a newer
	// binary. Such an archive is left untouched.
	ErrSchemaTooNew = errors.New("archive schema is newer than supported")
)
