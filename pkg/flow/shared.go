package flow

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Shared is the mutable key/value state threaded through a run. Nodes read
// it in Prepare and write it in Finalize; Execute never sees it.
//
// A Shared is not safe for concurrent mutation. The engine runs one node
// lifecycle at a time per run, so a run never races on its own context.
type Shared struct {
	data map[string]any
}

// NewShared creates a context seeded with a copy of initial.
func NewShared(initial map[string]any) *Shared {
	data := make(map[string]any, len(initial))
	maps.Copy(data, initial)
	return &Shared{data: data}
}

// Get returns the value stored under key. A nil value counts as absent.
func (s *Shared) Get(key string) (any, bool) {
	v, ok := s.data[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Set stores v under key, overwriting any previous value.
func (s *Shared) Set(key string, v any) {
	s.data[key] = v
}

// Delete removes key.
func (s *Shared) Delete(key string) {
	delete(s.data, key)
}

// Has reports whether key holds a non-nil value.
func (s *Shared) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Keys returns the stored keys in sorted order.
func (s *Shared) Keys() []string {
	return slices.Sorted(maps.Keys(s.data))
}

// Len returns the number of stored keys.
func (s *Shared) Len() int {
	return len(s.data)
}

// Snapshot returns a shallow copy of the stored values.
func (s *Shared) Snapshot() map[string]any {
	return maps.Clone(s.data)
}

// MarshalJSON encodes the stored values as a JSON object.
func (s *Shared) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.data)
}

// Require reads key as a T. It fails with MISSING_CONTEXT_KEY when the key is
// absent and CONTEXT_KEY_TYPE when it holds a value of another type.
func Require[T any](s *Shared, key string) (T, error) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, schema.MissingKey(key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, schema.NewErrorf(schema.ErrCodeContextKeyType,
			"context key %q holds %T, want %s", key, v, reflect.TypeFor[T]()).
			WithDetails(map[string]any{"key": key})
	}
	return t, nil
}

// Key is a typed accessor for one shared context entry. Declaring the keys of
// a pipeline as package-level Key values keeps names and types in one place:
//
//	var Items = flow.NewKey[[]string]("items")
type Key[T any] struct {
	name string
}

// NewKey declares a typed key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the underlying context key.
func (k Key[T]) Name() string {
	return k.name
}

// Get reads the key, failing fast when it is absent or mistyped.
func (k Key[T]) Get(s *Shared) (T, error) {
	return Require[T](s, k.name)
}

// Lookup reads the key, reporting false when it is absent or mistyped.
func (k Key[T]) Lookup(s *Shared) (T, bool) {
	v, err := Require[T](s, k.name)
	return v, err == nil
}

// Set stores v under the key.
func (k Key[T]) Set(s *Shared, v T) {
	s.Set(k.name, v)
}
