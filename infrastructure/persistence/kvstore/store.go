// Package kvstore defines the key-value store capability consumed by the write
// pipeline, together with its DynamoDB and in-memory adapters.
//
// Adapters translate every vendor failure into a *Error carrying a Kind, so
// callers never look at vendor error codes directly.
package kvstore

import (
	"context"
	"errors"
)

// MaxBatchSize is the DynamoDB per-request item cap for BatchWriteItem.
const MaxBatchSize = 25

// ErrItemNotFound is returned by Get when no item matches the key.
var ErrItemNotFound = errors.New("item not found")

// Item is a schemaless document stored under a table.
type Item map[string]any

// Key identifies a single item within a table.
type Key map[string]any

// Clone returns a shallow copy of the item.
func (i Item) Clone() Item {
	if i == nil {
		return nil
	}
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// Update describes a partial update applied to an existing item.
type Update struct {
	// Set assigns attribute values.
	Set map[string]any
	// Add increments numeric attributes, creating them at zero when absent.
	Add map[string]float64
	// Remove deletes attributes.
	Remove []string
	// RequireExists makes the update fail with KindConditionFailed when no
	// item matches the key instead of creating one.
	RequireExists bool
}

// IsEmpty reports whether the update would change nothing.
func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Add) == 0 && len(u.Remove) == 0
}

// UnprocessedItems maps a table name to the items the store deferred.
// An empty set is the terminal "fully processed" state.
type UnprocessedItems map[string][]Item

// Count returns the number of outstanding items across all tables.
func (u UnprocessedItems) Count() int {
	n := 0
	for _, items := range u {
		n += len(items)
	}
	return n
}

// IsEmpty reports whether no table has outstanding items.
func (u UnprocessedItems) IsEmpty() bool {
	return u.Count() == 0
}

// Flatten returns every outstanding item, table by table.
func (u UnprocessedItems) Flatten() []Item {
	out := make([]Item, 0, u.Count())
	for _, items := range u {
		out = append(out, items...)
	}
	return out
}

// Store is the key-value capability the pipeline writes through.
type Store interface {
	// PutIfNotExists inserts item unless an item with the same idField
	// value already exists, in which case it fails with KindConditionFailed.
	PutIfNotExists(ctx context.Context, table string, item Item, idField string) error

	// Update applies a partial update to the item identified by key.
	Update(ctx context.Context, table string, key Key, update Update) error

	// BatchWrite submits one batch request and returns the items the store
	// could not commit. A returned error means the whole request failed.
	BatchWrite(ctx context.Context, requests UnprocessedItems) (UnprocessedItems, error)

	// Get loads a single item, returning ErrItemNotFound when absent.
	Get(ctx context.Context, table string, key Key) (Item, error)
}
