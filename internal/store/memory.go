package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps documents in process memory
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]json.RawMessage),
	}
}

// Get returns a single document or ErrNotFound
func (m *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Data: data}, nil
}

// Query returns the matching documents ordered by id
func (m *MemoryStore) Query(_ context.Context, collection string, filters ...Filter) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]Document, 0)
	for id, data := range m.collections[collection] {
		ok, err := matchAll(data, filters)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		if ok {
			docs = append(docs, Document{ID: id, Data: data})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Set writes a single document
func (m *MemoryStore) Set(ctx context.Context, collection, id string, data interface{}, mergeFields bool) error {
	b := NewBatch()
	if mergeFields {
		b.Merge(collection, id, data)
	} else {
		b.Set(collection, id, data)
	}
	return m.Commit(ctx, b)
}

// Commit computes every write against a staged copy and swaps it in only if all succeed
func (m *MemoryStore) Commit(_ context.Context, batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	type key struct{ collection, id string }
	staged := make(map[key]json.RawMessage)
	order := make([]key, 0, batch.Len())

	for _, op := range batch.Ops() {
		k := key{op.Collection, op.ID}
		current, seen := staged[k]
		if !seen {
			current = m.collections[op.Collection][op.ID]
			order = append(order, k)
		}
		next, err := apply(current, op)
		if err != nil {
			return fmt.Errorf("commit %s/%s: %w", op.Collection, op.ID, err)
		}
		staged[k] = next
	}

	for _, k := range order {
		data := staged[k]
		if data == nil {
			delete(m.collections[k.collection], k.id)
			continue
		}
		if m.collections[k.collection] == nil {
			m.collections[k.collection] = make(map[string]json.RawMessage)
		}
		m.collections[k.collection][k.id] = data
	}
	return nil
}
