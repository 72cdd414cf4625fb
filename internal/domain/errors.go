package domain

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

var (
	ErrEmptyQueue      = errors.New("print queue is empty")
	ErrInvalidLocation = errors.New("invalid file location")
	ErrFileNotFound    = errors.New("file not found")
	ErrHTTPStatus      = errors.New("unexpected server status")
	ErrNetwork         = errors.New("network error")
	ErrCancelled       = errors.New("upload cancelled")
	ErrUnknown         = errors.New("unknown upload error")
)

// LocationError reports an identifier that does not resolve to a local file.
type LocationError struct {
	Identifier string
	Err        error
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid file location %q: %v", e.Identifier, e.Err)
	}
	return fmt.Sprintf("invalid file location %q", e.Identifier)
}

func (e *LocationError) Is(target error) bool { return target == ErrInvalidLocation }
func (e *LocationError) Unwrap() error        { return e.Err }

// FileError reports a local file that is missing or unreadable.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

func (e *FileError) Is(target error) bool { return target == ErrFileNotFound }
func (e *FileError) Unwrap() error        { return e.Err }

// StatusError is returned when the print server answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned HTTP %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server returned HTTP %d", e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrHTTPStatus }

// NetworkError wraps a transport failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
func (e *NetworkError) Unwrap() error        { return e.Err }

// IsCancelled reports whether err represents cancellation rather than failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// UserMessage renders err for display. Cancellation renders as an empty string.
func UserMessage(err error) string {
	if err == nil || IsCancelled(err) {
		return ""
	}

	var (
		locErr    *LocationError
		fileErr   *FileError
		statusErr *StatusError
	)
	switch {
	case errors.Is(err, ErrEmptyQueue):
		return "There are no documents to print."
	case errors.As(err, &locErr):
		return fmt.Sprintf("The file location is not valid: %s", locErr.Identifier)
	case errors.As(err, &fileErr):
		return fmt.Sprintf("The file could not be found: %s", filepath.Base(fileErr.Path))
	case errors.As(err, &statusErr):
		if statusErr.Message != "" {
			return fmt.Sprintf("The server reported an error. (HTTP %d) %s", statusErr.Code, statusErr.Message)
		}
		return fmt.Sprintf("The server reported an error. (HTTP %d)", statusErr.Code)
	case errors.Is(err, ErrNetwork):
		return "A network error occurred."
	case errors.Is(err, ErrInvalidPhoneNumber):
		return "The phone number is not valid."
	default:
		return "An unknown error occurred."
	}
}
