package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrUploadsDisabled is returned when the organization limit is zero.
	ErrUploadsDisabled = errors.New("file uploads are disabled")

	// ErrFileTooLarge is returned when a file exceeds the organization limit.
	ErrFileTooLarge = errors.New("file exceeds the upload size limit")

	// ErrMalformedResponse is returned when a completion body does not decode.
	ErrMalformedResponse = errors.New("malformed upload response")

	// ErrTransferCancelled is returned by transports whose transfer was abandoned.
	ErrTransferCancelled = errors.New("transfer cancelled")

	// ErrInvalidTransition is returned for a state change the machine does not allow.
	ErrInvalidTransition = errors.New("invalid upload state transition")

	// ErrManagerClosed is returned when files are added to a torn down surface.
	ErrManagerClosed = errors.New("upload manager closed")

	// ErrInvalidSurface is returned when a surface config is missing collaborators.
	ErrInvalidSurface = errors.New("invalid upload surface")
)

// ServerError carries the message a server returned for a rejected transfer.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upload rejected with status %d", e.Status)
	}
	return e.Message
}
