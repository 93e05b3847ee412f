package store

import "errors"

// ErrNotFound indicates a missing sync config or event lookup.
var ErrNotFound = errors.New("record not found")
