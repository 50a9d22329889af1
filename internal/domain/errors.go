package domain

import "errors"

// Configuration errors. These are fatal and are reported before any network
// activity takes place.
var (
	ErrInvalidArea      = errors.New("invalid area")
	ErrInvalidPreFilter = errors.New("invalid pre-filter")
	ErrInvalidRequest   = errors.New("invalid request")
)
