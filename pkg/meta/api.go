package meta

import (
	"encoding/json"
)

// JSONResult json result
type JSONResult struct {
	Code  int         `json:"code"`
	Value interface{} `json:"value,omitempty"`
}

// IngestResult is the outcome of one ingest append
type IngestResult struct {
	Collection string   `json:"collection"`
	Offset     int64    `json:"offset"`
	Token      string   `json:"token"`
	UUIDs      []string `json:"uuids"`
}

// ReadResult is one page of journal documents
type ReadResult struct {
	Documents []json.RawMessage `json:"documents"`
	Next      int64             `json:"next"`
}
