package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store with DynamoDB-like semantics: unknown
// tables fail with KindResourceNotFound and conditional writes fail with
// KindConditionFailed. It never defers batch items.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*memoryTable
}

type memoryTable struct {
	keyAttrs []string
	items    map[string]Item
}

// NewMemoryStore creates an empty store with no tables.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memoryTable)}
}

// CreateTable registers a table keyed by keyAttrs. Re-creating a table
// keeps its items.
func (s *MemoryStore) CreateTable(name string, keyAttrs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; ok {
		return
	}
	s.tables[name] = &memoryTable{
		keyAttrs: keyAttrs,
		items:    make(map[string]Item),
	}
}

// Len returns the number of items in a table.
func (s *MemoryStore) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[table]; ok {
		return len(t.items)
	}
	return 0
}

// PutIfNotExists implements Store.
func (s *MemoryStore) PutIfNotExists(_ context.Context, table string, item Item, idField string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table("PutItem", table)
	if err != nil {
		return err
	}
	if _, ok := item[idField]; !ok {
		return newError("PutItem", table, KindUnknown, fmt.Errorf("missing attribute %q", idField))
	}
	k, err := t.keyOf("PutItem", table, Key(item))
	if err != nil {
		return err
	}
	if existing, ok := t.items[k]; ok {
		if _, has := existing[idField]; has {
			return newError("PutItem", table, KindConditionFailed, errors.New("the conditional request failed"))
		}
	}
	t.items[k] = item.Clone()
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, table string, key Key, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table("UpdateItem", table)
	if err != nil {
		return err
	}
	if update.IsEmpty() {
		return newError("UpdateItem", table, KindUnknown, errors.New("empty update"))
	}
	k, err := t.keyOf("UpdateItem", table, key)
	if err != nil {
		return err
	}

	item, ok := t.items[k]
	if !ok {
		if update.RequireExists {
			return newError("UpdateItem", table, KindConditionFailed, errors.New("the conditional request failed"))
		}
		item = make(Item, len(key))
		for attr, v := range key {
			item[attr] = v
		}
	} else {
		item = item.Clone()
	}

	for attr, v := range update.Set {
		item[attr] = v
	}
	for attr, delta := range update.Add {
		current, err := toFloat(item[attr])
		if err != nil {
			return newError("UpdateItem", table, KindUnknown, fmt.Errorf("attribute %q: %w", attr, err))
		}
		item[attr] = current + delta
	}
	for _, attr := range update.Remove {
		delete(item, attr)
	}

	t.items[k] = item
	return nil
}

// BatchWrite implements Store. Every table is validated before any item is
// written, so a failed request writes nothing.
func (s *MemoryStore) BatchWrite(_ context.Context, requests UnprocessedItems) (UnprocessedItems, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for table, items := range requests {
		t, err := s.table("BatchWriteItem", table)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if _, err := t.keyOf("BatchWriteItem", table, Key(item)); err != nil {
				return nil, err
			}
		}
	}
	for table, items := range requests {
		t := s.tables[table]
		for _, item := range items {
			k, _ := t.keyOf("BatchWriteItem", table, Key(item))
			t.items[k] = item.Clone()
		}
	}
	return UnprocessedItems{}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, table string, key Key) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table("GetItem", table)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf("GetItem", table, key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[k]
	if !ok {
		return nil, ErrItemNotFound
	}
	return item.Clone(), nil
}

func (s *MemoryStore) table(op, name string) (*memoryTable, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, newError(op, name, KindResourceNotFound, fmt.Errorf("requested resource not found: table %s", name))
	}
	return t, nil
}

func (t *memoryTable) keyOf(op, table string, attrs Key) (string, error) {
	parts := make([]string, 0, len(t.keyAttrs))
	for _, name := range t.keyAttrs {
		v, ok := attrs[name]
		if !ok {
			return "", newError(op, table, KindUnknown, fmt.Errorf("missing key attribute %q", name))
		}
		parts = append(parts, fmt.Sprintf("%s=%v", name, v))
	}
	return strings.Join(parts, "|"), nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
