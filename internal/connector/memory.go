package connector

import (
	"context"
	"sync"

	"github.com/refinery-etl/refinery/internal/record"
	"github.com/refinery-etl/refinery/pkg/errors"
)

// MemorySource serves a fixed record slice. Records are cloned on read so
// consumers can never mutate the source data.
type MemorySource struct {
	name string

	mu     sync.Mutex
	recs   []*record.Record
	open   bool
	readAt int
	// FailOpen forces Open to fail, for failure-path tests.
	FailOpen bool
}

// NewMemorySource builds a source over the given records.
func NewMemorySource(name string, recs ...*record.Record) *MemorySource {
	return &MemorySource{name: name, recs: recs}
}

// Open marks the source usable.
func (s *MemorySource) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOpen {
		return errors.NewConnectorError(s.name, errors.ConnectFailed, nil)
	}
	s.open = true
	return nil
}

// Close marks the source unusable.
func (s *MemorySource) Close(context.Context) error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return nil
}

// TestConnection probes the source.
func (s *MemorySource) TestConnection(context.Context) (ConnectionTestResult, error) {
	if s.FailOpen {
		return ConnectionTestResult{Success: false, Message: "source unavailable"}, nil
	}
	return ConnectionTestResult{Success: true, Message: "ok"}, nil
}

// Metadata describes the source.
func (s *MemorySource) Metadata(context.Context) (Metadata, error) {
	return Metadata{Version: "1.0", Properties: map[string]string{"type": "memory", "name": s.name}}, nil
}

// EstimatedRecordCount returns the exact count.
func (s *MemorySource) EstimatedRecordCount(context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.recs)), true, nil
}

// Read returns an iterator over the records. The iterator is single-use.
func (s *MemorySource) Read(context.Context) (Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, errors.NewConnectorError(s.name, errors.IOFailed, nil)
	}
	s.readAt = 0
	return &memoryIterator{source: s}, nil
}

type memoryIterator struct {
	source *MemorySource
}

func (it *memoryIterator) Next(ctx context.Context) (*record.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	it.source.mu.Lock()
	defer it.source.mu.Unlock()
	if it.source.readAt >= len(it.source.recs) {
		return nil, false, nil
	}
	rec := it.source.recs[it.source.readAt].Clone()
	it.source.readAt++
	return rec, true, nil
}

func (it *memoryIterator) Close() error { return nil }

// MemoryDestination collects written records.
type MemoryDestination struct {
	name string

	mu   sync.Mutex
	recs []*record.Record
	open bool
	// FailWrite forces writes to fail, for failure-path tests.
	FailWrite bool
}

// NewMemoryDestination builds an empty destination.
func NewMemoryDestination(name string) *MemoryDestination {
	return &MemoryDestination{name: name}
}

// Open marks the destination usable.
func (d *MemoryDestination) Open(context.Context) error {
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	return nil
}

// Close marks the destination unusable.
func (d *MemoryDestination) Close(context.Context) error {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	return nil
}

// TestConnection probes the destination.
func (d *MemoryDestination) TestConnection(context.Context) (ConnectionTestResult, error) {
	return ConnectionTestResult{Success: true, Message: "ok"}, nil
}

// Metadata describes the destination.
func (d *MemoryDestination) Metadata(context.Context) (Metadata, error) {
	return Metadata{Version: "1.0", Properties: map[string]string{"type": "memory", "name": d.name}}, nil
}

// Write stores one record.
func (d *MemoryDestination) Write(ctx context.Context, rec *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return errors.NewConnectorError(d.name, errors.IOFailed, nil)
	}
	if d.FailWrite {
		return errors.NewConnectorError(d.name, errors.IOFailed, nil)
	}
	d.recs = append(d.recs, rec.Clone())
	return nil
}

// WriteBatch stores records one by one, reporting per-record outcomes.
func (d *MemoryDestination) WriteBatch(ctx context.Context, recs []*record.Record) (BatchWriteResult, error) {
	var result BatchWriteResult
	for _, rec := range recs {
		if err := d.Write(ctx, rec); err != nil {
			result.Failed++
			continue
		}
		result.Successful++
	}
	return result, nil
}

// Records snapshots the written records.
func (d *MemoryDestination) Records() []*record.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*record.Record(nil), d.recs...)
}
