package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidInput marks empty or unusable document text and empty queries.
	// Callers skip and report; it never crashes an ingest batch.
	ErrInvalidInput = errors.New("invalid input")
	// ErrIndexUnavailable marks persisted index files that are present but
	// unreadable or mutually inconsistent. The engine resolves it by starting
	// from an empty index.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrCapabilityFailure marks a failed embedding, reranking, or generation
	// call to an external model.
	ErrCapabilityFailure = errors.New("capability failure")
	// ErrDocumentExists marks a content-hash duplicate in the archive.
	ErrDocumentExists = errors.New("document already archived")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrDocumentExists):
		return http.StatusConflict
	case errors.Is(err, ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrCapabilityFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
