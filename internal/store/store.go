// Package store provides the document store the jobs and analytics read from and write to.
//
// Documents are JSON objects grouped into collections and addressed by id.
// Timestamps are stored as RFC3339Nano strings, which is what encoding/json
// produces for time.Time.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the document does not exist
var ErrNotFound = errors.New("document not found")

// Store is the generic query/get/batch-write interface
type Store interface {
	// Get returns a single document or ErrNotFound
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query returns every document in collection matching all filters, ordered by id
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)

	// Set writes data to a document. With merge the top-level fields of data
	// are overlaid onto the existing document instead of replacing it.
	Set(ctx context.Context, collection, id string, data interface{}, merge bool) error

	// Commit applies every operation in the batch or none of them
	Commit(ctx context.Context, batch *Batch) error
}

// Document is a stored JSON object
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document body into v
func (d Document) Decode(v interface{}) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Op is a filter comparison
type Op string

const (
	Eq  Op = "=="
	Lt  Op = "<"
	Lte Op = "<="
)

// Filter compares one top-level field against a value.
// Value may be a bool, string, number or time.Time.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Where builds a filter
func Where(field string, op Op, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Match reports whether fields satisfy the filter. Missing or null fields never match.
func (f Filter) Match(fields map[string]interface{}) bool {
	raw, ok := fields[f.Field]
	if !ok || raw == nil {
		return false
	}

	var cmp int
	switch want := f.Value.(type) {
	case time.Time:
		s, ok := raw.(string)
		if !ok {
			return false
		}
		got, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return false
		}
		cmp = got.Compare(want)
	case bool:
		got, ok := raw.(bool)
		if !ok {
			return false
		}
		if got != want {
			cmp = 1
		}
	case string:
		got, ok := raw.(string)
		if !ok {
			return false
		}
		cmp = strings.Compare(got, want)
	default:
		wantNum, ok := toFloat(want)
		if !ok {
			return false
		}
		got, ok := raw.(float64)
		if !ok {
			return false
		}
		switch {
		case got < wantNum:
			cmp = -1
		case got > wantNum:
			cmp = 1
		}
	}

	switch f.Op {
	case Eq:
		return cmp == 0
	case Lt:
		return cmp < 0
	case Lte:
		return cmp <= 0
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// matchAll decodes a document body and checks every filter
func matchAll(data json.RawMessage, filters []Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return false, err
	}
	for _, f := range filters {
		if !f.Match(fields) {
			return false, nil
		}
	}
	return true, nil
}

// OpKind identifies a batched write
type OpKind int

const (
	OpSet OpKind = iota
	OpMerge
	OpDelete
)

// BatchOp is one write in a batch
type BatchOp struct {
	Kind       OpKind
	Collection string
	ID         string
	Data       interface{}
}

// Batch collects writes to be committed atomically
type Batch struct {
	ops []BatchOp
}

// NewBatch returns an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

// Set replaces the document
func (b *Batch) Set(collection, id string, data interface{}) *Batch {
	b.ops = append(b.ops, BatchOp{Kind: OpSet, Collection: collection, ID: id, Data: data})
	return b
}

// Merge overlays fields onto the document, creating it if absent
func (b *Batch) Merge(collection, id string, fields interface{}) *Batch {
	b.ops = append(b.ops, BatchOp{Kind: OpMerge, Collection: collection, ID: id, Data: fields})
	return b
}

// Delete removes the document; deleting a missing document is not an error
func (b *Batch) Delete(collection, id string) *Batch {
	b.ops = append(b.ops, BatchOp{Kind: OpDelete, Collection: collection, ID: id})
	return b
}

// Len is the number of queued writes
func (b *Batch) Len() int {
	return len(b.ops)
}

// Ops returns the queued writes in order
func (b *Batch) Ops() []BatchOp {
	return b.ops
}

// encode marshals data, which must encode to a JSON object
func encode(data interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("encode document: expected a JSON object, got %s", raw)
	}
	return raw, nil
}

// merge overlays the top-level fields of patch onto existing
func merge(existing json.RawMessage, patch interface{}) (json.RawMessage, error) {
	patchRaw, err := encode(patch)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return patchRaw, nil
	}

	var base, overlay map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil {
		return nil, fmt.Errorf("merge document: %w", err)
	}
	if err := json.Unmarshal(patchRaw, &overlay); err != nil {
		return nil, fmt.Errorf("merge document: %w", err)
	}
	if base == nil {
		base = make(map[string]json.RawMessage, len(overlay))
	}
	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}

// apply computes the new body of a document after op; nil means deleted
func apply(current json.RawMessage, op BatchOp) (json.RawMessage, error) {
	switch op.Kind {
	case OpSet:
		return encode(op.Data)
	case OpMerge:
		return merge(current, op.Data)
	case OpDelete:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown batch operation %d", op.Kind)
	}
}

// DecodeAll decodes every document into T, preserving order
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
