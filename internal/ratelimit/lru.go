// lru.go: LRU key tracking for the local bucket map
package ratelimit

import "container/list"

// lruKeys tracks keys in least-recently-used order so the local fallback's
// bucket map stays bounded under many distinct identifiers.
type lruKeys struct {
	max   int
	items map[string]*list.Element
	order *list.List
}

func newLRUKeys(max int) *lruKeys {
	if max < 0 {
		max = 0
	}
	return &lruKeys{
		max:   max,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

// touch marks a key as most recently used, inserting it if absent. When the
// tracker is over capacity it returns the evicted key and true.
func (l *lruKeys) touch(key string) (string, bool) {
	if element, ok := l.items[key]; ok {
		l.order.MoveToFront(element)
		return "", false
	}
	l.items[key] = l.order.PushFront(key)
	if l.max > 0 && l.order.Len() > l.max {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		evicted := oldest.Value.(string)
		delete(l.items, evicted)
		return evicted, true
	}
	return "", false
}

func (l *lruKeys) len() int {
	return l.order.Len()
}
