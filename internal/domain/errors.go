package domain

import "errors"

// ErrInvalidTransition indicates a status change not present in the
// status machine's adjacency table.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrMissingSession indicates an operation referencing an index with no
// registered session.
var ErrMissingSession = errors.New("no session for index")
