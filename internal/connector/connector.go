// Package connector defines the collaborator contracts the engine consumes
// for record extraction and loading, plus in-memory implementations used by
// tests and local runs.
package connector

import (
	"context"

	"github.com/refinery-etl/refinery/internal/record"
)

// ConnectionTestResult reports a connectivity probe.
type ConnectionTestResult struct {
	Success bool
	Message string
}

// Metadata describes a connector endpoint.
type Metadata struct {
	Version    string
	Properties map[string]string
}

// lifecycle is shared by sources and destinations.
type lifecycle interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	TestConnection(ctx context.Context) (ConnectionTestResult, error)
	Metadata(ctx context.Context) (Metadata, error)
}

// Source yields records from an external system. Read returns a finite,
// non-restartable iterator delivering records in source order.
type Source interface {
	lifecycle
	// EstimatedRecordCount returns the expected record count, or ok=false
	// when the source cannot estimate.
	EstimatedRecordCount(ctx context.Context) (int64, bool, error)
	Read(ctx context.Context) (Iterator, error)
}

// Iterator walks a source's records. Next returns ok=false at end of input;
// the error reports read failures.
type Iterator interface {
	Next(ctx context.Context) (*record.Record, bool, error)
	Close() error
}

// BatchWriteResult reports a batch write.
type BatchWriteResult struct {
	Successful int
	Failed     int
}

// Destination accepts records into an external system.
type Destination interface {
	lifecycle
	Write(ctx context.Context, rec *record.Record) error
	WriteBatch(ctx context.Context, recs []*record.Record) (BatchWriteResult, error)
}
