// Package tracked provides map and list containers that report in-place
// mutation through a registered callback. They exist for schemaless database
// columns: a plain map read out of a JSON column can be mutated without the
// persistence layer ever noticing, so rows silently miss their UPDATE. A
// tracked container makes every mutating operation observable, letting the
// owning record mark itself dirty the moment a nested value changes.
//
// Containers are not safe for concurrent use; like the row structs they live
// in, they expect a single goroutine at a time.
package tracked

import (
	"encoding/json"
	"maps"
	"slices"
)

// Map is a change-tracked string-keyed-or-otherwise map. The zero value is
// empty and usable; mutations allocate the backing map on demand.
type Map[K comparable, V any] struct {
	items    map[K]V
	onChange func()
}

// NewMap builds a Map seeded with a copy of items. The argument may be nil.
func NewMap[K comparable, V any](items map[K]V) *Map[K, V] {
	m := &Map[K, V]{}
	if len(items) > 0 {
		m.items = maps.Clone(items)
	}
	return m
}

// OnChange registers fn to run after every mutation. A nil fn disables
// notification. Only one callback is held; registering replaces the previous.
func (m *Map[K, V]) OnChange(fn func()) {
	m.onChange = fn
}

func (m *Map[K, V]) notify() {
	if m.onChange != nil {
		m.onChange()
	}
}

func (m *Map[K, V]) ensure() {
	if m.items == nil {
		m.items = make(map[K]V)
	}
}

// Get returns the value stored under key and whether it was present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	v, ok := m.items[key]
	return v, ok
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int { return len(m.items) }

// Set stores value under key and fires the change callback.
func (m *Map[K, V]) Set(key K, value V) {
	m.ensure()
	m.items[key] = value
	m.notify()
}

// Delete removes key, reporting whether it was present. The callback fires
// only when an entry was actually removed.
func (m *Map[K, V]) Delete(key K) bool {
	if _, ok := m.items[key]; !ok {
		return false
	}
	delete(m.items, key)
	m.notify()
	return true
}

// Merge stores every entry of items, firing the callback once per entry.
func (m *Map[K, V]) Merge(items map[K]V) {
	for k, v := range items {
		m.Set(k, v)
	}
}

// Clear removes all entries. The callback fires only if the map was non-empty.
func (m *Map[K, V]) Clear() {
	if len(m.items) == 0 {
		return
	}
	clear(m.items)
	m.notify()
}

// Keys returns the keys in unspecified order.
func (m *Map[K, V]) Keys() []K {
	return slices.Collect(maps.Keys(m.items))
}

// Snapshot returns an independent copy of the current entries. Mutating the
// returned map never affects the container and never fires the callback.
func (m *Map[K, V]) Snapshot() map[K]V {
	if m.items == nil {
		return map[K]V{}
	}
	return maps.Clone(m.items)
}

// MarshalJSON encodes the map as a plain JSON object.
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	if m.items == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.items)
}

// UnmarshalJSON replaces the contents with the decoded object and fires the
// callback once.
func (m *Map[K, V]) UnmarshalJSON(data []byte) error {
	var items map[K]V
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	m.items = items
	m.notify()
	return nil
}

// List is a change-tracked slice. The zero value is empty and usable.
type List[T any] struct {
	items    []T
	onChange func()
}

// NewList builds a List seeded with a copy of items. The argument may be nil.
func NewList[T any](items []T) *List[T] {
	l := &List[T]{}
	if len(items) > 0 {
		l.items = slices.Clone(items)
	}
	return l
}

// OnChange registers fn to run after every mutation. A nil fn disables
// notification.
func (l *List[T]) OnChange(fn func()) {
	l.onChange = fn
}

func (l *List[T]) notify() {
	if l.onChange != nil {
		l.onChange()
	}
}

// Len returns the number of elements.
func (l *List[T]) Len() int { return len(l.items) }

// At returns the element at index i, panicking when out of range just as a
// slice index would.
func (l *List[T]) At(i int) T { return l.items[i] }

// Append adds values to the end, firing the callback once when at least one
// value was added.
func (l *List[T]) Append(values ...T) {
	if len(values) == 0 {
		return
	}
	l.items = append(l.items, values...)
	l.notify()
}

// Insert places value at index i, shifting later elements. i may equal Len.
func (l *List[T]) Insert(i int, value T) {
	l.items = slices.Insert(l.items, i, value)
	l.notify()
}

// Set replaces the element at index i.
func (l *List[T]) Set(i int, value T) {
	l.items[i] = value
	l.notify()
}

// RemoveAt deletes and returns the element at index i.
func (l *List[T]) RemoveAt(i int) T {
	v := l.items[i]
	l.items = slices.Delete(l.items, i, i+1)
	l.notify()
	return v
}

// Pop removes and returns the last element. It reports false on an empty
// list without firing the callback.
func (l *List[T]) Pop() (T, bool) {
	if len(l.items) == 0 {
		var zero T
		return zero, false
	}
	return l.RemoveAt(len(l.items) - 1), true
}

// Remove deletes the first element matching the predicate, reporting whether
// one was found. The callback fires only on removal.
func (l *List[T]) Remove(match func(T) bool) bool {
	for i, v := range l.items {
		if match(v) {
			l.RemoveAt(i)
			return true
		}
	}
	return false
}

// Truncate shortens the list to n elements. The callback fires only when
// elements were dropped.
func (l *List[T]) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(l.items) {
		return
	}
	l.items = l.items[:n]
	l.notify()
}

// Snapshot returns an independent copy of the current elements.
func (l *List[T]) Snapshot() []T {
	if l.items == nil {
		return []T{}
	}
	return slices.Clone(l.items)
}

// MarshalJSON encodes the list as a plain JSON array.
func (l *List[T]) MarshalJSON() ([]byte, error) {
	if l.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.items)
}

// UnmarshalJSON replaces the contents with the decoded array and fires the
// callback once.
func (l *List[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	l.items = items
	l.notify()
	return nil
}

var (
	_ json.Marshaler   = (*Map[string, any])(nil)
	_ json.Unmarshaler = (*Map[string, any])(nil)
	_ json.Marshaler   = (*List[any])(nil)
	_ json.Unmarshaler = (*List[any])(nil)
)
