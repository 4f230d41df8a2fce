// Package ingest defines the request types and Kafka event schema for the
// document ingestion pipeline, plus the consumer that drains the ingest topic
// into the engine. Consumption is single-threaded on purpose: the engine
// serializes appends anyway, so one in-flight document at a time keeps
// ordering obvious and failure handling per-message.
package ingest

import "time"

// DocumentRequest is the JSON body accepted by the ingest HTTP endpoint.
type DocumentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// DocumentResponse is returned to the caller after a document is accepted.
type DocumentResponse struct {
	DocumentID string `json:"document_id,omitempty"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	Chunks     int    `json:"chunks,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// DocumentEvent is the Kafka message payload for asynchronous ingestion.
type DocumentEvent struct {
	DocumentID string    `json:"document_id,omitempty"`
	Filename   string    `json:"filename"`
	Content    string    `json:"content"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
