// Package cache holds the in-memory local copy of ledger records.
package cache

import "container/list"

// Ordered is a keyed store that remembers insertion order.
//
// Every item carries the sequence number it was inserted with, so an item
// removed and later restored goes back to its original position. Ordered is
// not safe for concurrent use; owners guard it with their own lock so that
// several tables can change under one critical section.
type Ordered[T any] struct {
	items map[string]*list.Element
	order *list.List
	seq   uint64
}

type orderedItem[T any] struct {
	key  string
	seq  uint64
	data T
}

// Entry is a snapshot of one item with its position.
type Entry[T any] struct {
	Key  string
	Seq  uint64
	Data T
}

func NewOrdered[T any]() *Ordered[T] {
	return &Ordered[T]{
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

func (c *Ordered[T]) Get(key string) (T, bool) {
	var zero T
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	return elem.Value.(*orderedItem[T]).data, true
}

// Lookup is Get that also returns the item's sequence number.
func (c *Ordered[T]) Lookup(key string) (Entry[T], bool) {
	elem, ok := c.items[key]
	if !ok {
		return Entry[T]{}, false
	}
	item := elem.Value.(*orderedItem[T])
	return Entry[T]{Key: item.key, Seq: item.seq, Data: item.data}, true
}

// Set replaces an existing value in place or appends a new one.
func (c *Ordered[T]) Set(key string, data T) {
	if elem, ok := c.items[key]; ok {
		elem.Value.(*orderedItem[T]).data = data
		return
	}
	c.seq++
	c.items[key] = c.order.PushBack(&orderedItem[T]{key: key, seq: c.seq, data: data})
}

// Restore re-inserts an item at the position given by seq.
func (c *Ordered[T]) Restore(e Entry[T]) {
	if elem, ok := c.items[e.Key]; ok {
		c.order.Remove(elem)
	}
	item := &orderedItem[T]{key: e.Key, seq: e.Seq, data: e.Data}
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*orderedItem[T]).seq < e.Seq {
			c.items[e.Key] = c.order.InsertAfter(item, elem)
			c.bump(e.Seq)
			return
		}
	}
	c.items[e.Key] = c.order.PushFront(item)
	c.bump(e.Seq)
}

func (c *Ordered[T]) bump(seq uint64) {
	if seq > c.seq {
		c.seq = seq
	}
}

func (c *Ordered[T]) Delete(key string) {
	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

// Rename moves the value stored under oldKey to newKey keeping its position.
// It reports false when oldKey is absent or newKey is taken.
func (c *Ordered[T]) Rename(oldKey, newKey string) bool {
	elem, ok := c.items[oldKey]
	if !ok {
		return false
	}
	if _, taken := c.items[newKey]; taken && newKey != oldKey {
		return false
	}
	elem.Value.(*orderedItem[T]).key = newKey
	delete(c.items, oldKey)
	c.items[newKey] = elem
	return true
}

func (c *Ordered[T]) Size() int {
	return len(c.items)
}

// Entries returns every item in insertion order.
func (c *Ordered[T]) Entries() []Entry[T] {
	out := make([]Entry[T], 0, len(c.items))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*orderedItem[T])
		out = append(out, Entry[T]{Key: item.key, Seq: item.seq, Data: item.data})
	}
	return out
}

// Values returns every value in insertion order.
func (c *Ordered[T]) Values() []T {
	out := make([]T, 0, len(c.items))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*orderedItem[T]).data)
	}
	return out
}

// Clear drops every item. The sequence counter keeps growing.
func (c *Ordered[T]) Clear() {
	c.items = make(map[string]*list.Element)
	c.order.Init()
}
