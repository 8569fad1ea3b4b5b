package drafts

import "errors"

var (
	// ErrInvalidType is returned when a draft has neither stream nor private type.
	ErrInvalidType = errors.New("invalid draft type")

	// ErrNotFound is returned by CLI-facing lookups for unknown draft ids.
	ErrNotFound = errors.New("draft not found")
)
