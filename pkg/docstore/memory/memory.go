// Package memory implements an in-memory document store for testing and
// development. It is not suitable for production: nothing is persisted and
// the whole store lives in one process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/agentfolio/agentfolio/pkg/docstore"
)

// MemoryStore implements docstore.Store backed by a map.
// Server time is a monotonic logical clock so tests observing write
// timestamps see strictly increasing values.
type MemoryStore struct {
	documents map[string]docstore.Document
	lastStamp time.Time
	mu        sync.RWMutex
	closed    bool
}

// New creates an empty MemoryStore.
func New() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]docstore.Document),
	}
}

// Get retrieves the document at path.
func (m *MemoryStore) Get(ctx context.Context, path string) (docstore.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, docstore.ErrStoreClosed
	}

	doc, ok := m.documents[path]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return copyDocument(doc), nil
}

// Set writes fields to the document at path.
func (m *MemoryStore) Set(ctx context.Context, path string, fields docstore.Document, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return docstore.ErrStoreClosed
	}

	doc, exists := m.documents[path]
	if !exists || !merge {
		doc = make(docstore.Document, len(fields))
		m.documents[path] = doc
	}

	stamp := m.commitTime()
	for k, v := range fields {
		if v == docstore.ServerTimestamp {
			doc[k] = stamp
			continue
		}
		doc[k] = copyValue(v)
	}

	return nil
}

// Increment atomically adds delta to a numeric field.
func (m *MemoryStore) Increment(ctx context.Context, path, field string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return docstore.ErrStoreClosed
	}

	doc, exists := m.documents[path]
	if !exists {
		doc = make(docstore.Document, 1)
		m.documents[path] = doc
	}

	current, _ := docstore.Numeric(doc[field])
	doc[field] = current + delta
	return nil
}

// Ping reports whether the store is usable.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return docstore.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is discarded.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.documents = nil
	return nil
}

// commitTime returns a strictly increasing wall-clock-ish timestamp.
// Caller must hold the write lock.
func (m *MemoryStore) commitTime() time.Time {
	now := time.Now().UTC()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = now
	return now
}

func copyDocument(doc docstore.Document) docstore.Document {
	out := make(docstore.Document, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = copyValue(inner)
		}
		return out
	case docstore.Document:
		return map[string]any(copyDocument(val))
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = copyValue(inner)
		}
		return out
	default:
		return v
	}
}
