package store

import "errors"

// ErrNotFound is returned when a requested table or row does not exist in the database.
var ErrNotFound = errors.New("not found")
