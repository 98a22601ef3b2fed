package peer

import "container/list"

// signalDedupe is a bounded LRU of recently seen signal ids. Signals reach a
// peer at least once across the push and drain paths, so the negotiator must
// drop repeats before applying them.
type signalDedupe struct {
	capacity int
	order    *list.List
	seen     map[string]*list.Element
}

func newSignalDedupe(capacity int) *signalDedupe {
	if capacity <= 0 {
		capacity = 256
	}
	return &signalDedupe{
		capacity: capacity,
		order:    list.New(),
		seen:     make(map[string]*list.Element, capacity),
	}
}

// Observe records an id and reports whether it was already seen. Ids without
// a value (unassigned) are never deduplicated.
func (d *signalDedupe) Observe(id string) bool {
	if id == "" {
		return false
	}
	if elem, ok := d.seen[id]; ok {
		d.order.MoveToFront(elem)
		return true
	}

	d.seen[id] = d.order.PushFront(id)
	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}
	return false
}

func (d *signalDedupe) Len() int { return d.order.Len() }
