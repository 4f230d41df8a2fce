package ingest

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDocumentRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       DocumentRequest
		wantField string
	}{
		{
			name: "valid",
			req:  DocumentRequest{Filename: "ipc.txt", Content: "Section 302 prescribes the punishment for murder."},
		},
		{
			name: "missing filename is allowed",
			req:  DocumentRequest{Content: "Content without a filename is indexed under a placeholder."},
		},
		{
			name:      "blank content",
			req:       DocumentRequest{Filename: "empty.txt", Content: "   \n "},
			wantField: "content",
		},
		{
			name:      "oversized content",
			req:       DocumentRequest{Filename: "big.txt", Content: strings.Repeat("x", maxContentLength+1)},
			wantField: "content",
		},
		{
			name:      "oversized filename",
			req:       DocumentRequest{Filename: strings.Repeat("f", maxFilenameLength+1), Content: "fine content"},
			wantField: "filename",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocumentRequest(&tt.req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if _, ok := vErr.Fields[tt.wantField]; !ok {
				t.Errorf("Fields = %v, want entry for %q", vErr.Fields, tt.wantField)
			}
		})
	}
}
