// Package docstore abstracts the document database the microsite writes to.
// It exposes the minimal contract the analytics core needs: read a document,
// merge-write fields, and atomically increment numeric fields server-side.
package docstore

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	// ErrNotFound is returned when a document doesn't exist at the given path.
	ErrNotFound = errors.New("document not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("document store is closed")
)

// Document is a single document's fields. Values are restricted to what all
// backends can round-trip: strings, bools, int64/float64, time.Time, nested
// map[string]any, and slices thereof.
type Document map[string]any

// ServerTimestamp is a sentinel field value. Backends replace it with the
// storage server's commit time when the write is applied. Only supported in
// top-level fields.
var ServerTimestamp = serverTimestamp{}

type serverTimestamp struct{}

// Store is a document store. Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the document at path.
	// Returns ErrNotFound if no document exists there.
	Get(ctx context.Context, path string) (Document, error)

	// Set writes fields to the document at path. With merge=true the write
	// behaves as a per-field upsert: fields not present in the call are
	// preserved. With merge=false the document is replaced.
	Set(ctx context.Context, path string, fields Document, merge bool) error

	// Increment atomically adds delta to a numeric top-level field,
	// creating the field at delta (and the document, if needed) when absent.
	// The increment is applied server-side: concurrent writers never lose
	// updates.
	Increment(ctx context.Context, path, field string, delta int64) error

	// Close releases any resources held by the store.
	Close() error
}

// Pinger is implemented by stores that can report backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
