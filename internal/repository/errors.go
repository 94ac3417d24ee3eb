package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidArgument indicates the store rejected the data itself.
var ErrInvalidArgument = errors.New("repository: invalid argument")

// ErrUnavailable indicates the store could not be reached. Callers use it to
// distinguish "no data" from "no answer".
var ErrUnavailable = errors.New("repository: unavailable")
