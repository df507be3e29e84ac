package cache

import (
	"container/list"
	"sync"
)

// Memo is a bounded least-recently-used map keyed by fingerprint. It keeps
// derived values (grouped agendas) so repeated renders of the same data skip
// regrouping.
type Memo[V any] struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[string]*list.Element
}

type memoItem[V any] struct {
	key   string
	value V
}

// NewMemo returns a Memo holding at most capacity values (minimum 1).
func NewMemo[V any](capacity int) *Memo[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Memo[V]{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (m *Memo[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.order.MoveToFront(el)
		return el.Value.(*memoItem[V]).value, true
	}
	var zero V
	return zero, false
}

func (m *Memo[V]) Put(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		el.Value.(*memoItem[V]).value = value
		m.order.MoveToFront(el)
		return
	}
	m.items[key] = m.order.PushFront(&memoItem[V]{key: key, value: value})
	for m.order.Len() > m.cap {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*memoItem[V]).key)
	}
}

// Purge drops every value.
func (m *Memo[V]) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	clear(m.items)
}

func (m *Memo[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
