package storage

import "container/list"

// OrderedList is the double-ended sequence of byte strings backing the List
// DataValue variant. It is a thin wrapper over container/list so that
// PushFront/PushBack/PopFront/PopBack are O(1), matching the access pattern
// LPUSH/RPUSH/LPOP/RPOP/BLPOP/BRPOP need.
type OrderedList struct {
	l *list.List
}

// NewOrderedList returns an empty list.
func NewOrderedList() *OrderedList {
	return &OrderedList{l: list.New()}
}

func (o *OrderedList) PushFront(v []byte) { o.l.PushFront(v) }
func (o *OrderedList) PushBack(v []byte)  { o.l.PushBack(v) }

func (o *OrderedList) PopFront() ([]byte, bool) {
	e := o.l.Front()
	if e == nil {
		return nil, false
	}
	o.l.Remove(e)
	return e.Value.([]byte), true
}

func (o *OrderedList) PopBack() ([]byte, bool) {
	e := o.l.Back()
	if e == nil {
		return nil, false
	}
	o.l.Remove(e)
	return e.Value.([]byte), true
}

func (o *OrderedList) Len() int { return o.l.Len() }

// Values returns all elements front-to-back. Used by construction-command
// serialization and tests; not on any hot path.
func (o *OrderedList) Values() [][]byte {
	out := make([][]byte, 0, o.l.Len())
	for e := o.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.([]byte))
	}
	return out
}

func (o *OrderedList) MemoryUsage() int {
	total := 0
	for e := o.l.Front(); e != nil; e = e.Next() {
		total += len(e.Value.([]byte))
	}
	return total
}

func (o *OrderedList) Clone() *OrderedList {
	clone := NewOrderedList()
	for e := o.l.Front(); e != nil; e = e.Next() {
		v := e.Value.([]byte)
		cp := make([]byte, len(v))
		copy(cp, v)
		clone.PushBack(cp)
	}
	return clone
}
