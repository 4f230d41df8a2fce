package ingest

import (
	"fmt"
	"strings"
)

const (
	maxFilenameLength = 255
	maxContentLength  = 4 * 1024 * 1024
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// ValidateDocumentRequest checks field length constraints. The filename is
// optional; documents without one are indexed under a fixed placeholder.
func ValidateDocumentRequest(req *DocumentRequest) error {
	errs := make(map[string]string)

	if len(req.Filename) > maxFilenameLength {
		errs["filename"] = fmt.Sprintf("filename must be at most %d characters", maxFilenameLength)
	}
	if strings.TrimSpace(req.Content) == "" {
		errs["content"] = "content is required and must not be blank"
	} else if len(req.Content) > maxContentLength {
		errs["content"] = fmt.Sprintf("content must be at most %d bytes", maxContentLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
