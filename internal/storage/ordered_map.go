package storage

// OrderedMap is an insertion-order-preserving byte->byte mapping, backing
// the Hash DataValue variant. A plain Go map loses insertion order, which
// HGETALL-style enumeration and HRANDFIELD's deterministic-for-a-version
// behaviour both depend on, so we keep a parallel key-order slice.
type OrderedMap struct {
	index map[string]int
	keys  []string
	vals  [][]byte
}

func NewOrderedMap() *OrderedMap {
	return &OrderedMap{index: make(map[string]int)}
}

// Set inserts or replaces the value for key, returning the previous value
// and whether the key already existed.
func (m *OrderedMap) Set(key, val []byte) ([]byte, bool) {
	k := string(key)
	if i, ok := m.index[k]; ok {
		old := m.vals[i]
		m.vals[i] = val
		return old, true
	}
	m.index[k] = len(m.keys)
	m.keys = append(m.keys, k)
	m.vals = append(m.vals, val)
	return nil, false
}

func (m *OrderedMap) Get(key []byte) ([]byte, bool) {
	i, ok := m.index[string(key)]
	if !ok {
		return nil, false
	}
	return m.vals[i], true
}

// Delete removes key, preserving the relative order of the remaining keys.
func (m *OrderedMap) Delete(key []byte) bool {
	k := string(key)
	i, ok := m.index[k]
	if !ok {
		return false
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	delete(m.index, k)
	for j := i; j < len(m.keys); j++ {
		m.index[m.keys[j]] = j
	}
	return true
}

func (m *OrderedMap) Len() int { return len(m.keys) }

// Range calls fn for every (key, value) pair in insertion order. fn must not
// mutate the map.
func (m *OrderedMap) Range(fn func(key, val []byte)) {
	for i, k := range m.keys {
		fn([]byte(k), m.vals[i])
	}
}

func (m *OrderedMap) MemoryUsage() int {
	total := 0
	for i, k := range m.keys {
		total += len(k) + len(m.vals[i])
	}
	return total
}

func (m *OrderedMap) Clone() *OrderedMap {
	clone := NewOrderedMap()
	m.Range(func(k, v []byte) {
		kc := make([]byte, len(k))
		copy(kc, k)
		vc := make([]byte, len(v))
		copy(vc, v)
		clone.Set(kc, vc)
	})
	return clone
}

// ByteSet is the unordered unique byte-string collection backing the Set
// DataValue variant.
type ByteSet struct {
	m map[string][]byte // preserves original byte slice for iteration/serialization
}

func NewByteSet() *ByteSet {
	return &ByteSet{m: make(map[string][]byte)}
}

// Add returns true if member was newly inserted.
func (s *ByteSet) Add(member []byte) bool {
	k := string(member)
	if _, ok := s.m[k]; ok {
		return false
	}
	s.m[k] = member
	return true
}

func (s *ByteSet) Remove(member []byte) bool {
	k := string(member)
	if _, ok := s.m[k]; !ok {
		return false
	}
	delete(s.m, k)
	return true
}

func (s *ByteSet) Contains(member []byte) bool {
	_, ok := s.m[string(member)]
	return ok
}

func (s *ByteSet) Len() int { return len(s.m) }

func (s *ByteSet) Members() [][]byte {
	out := make([][]byte, 0, len(s.m))
	for _, v := range s.m {
		out = append(out, v)
	}
	return out
}

func (s *ByteSet) MemoryUsage() int {
	total := 0
	for k := range s.m {
		total += len(k)
	}
	return total
}

func (s *ByteSet) Clone() *ByteSet {
	clone := NewByteSet()
	for _, v := range s.m {
		cp := make([]byte, len(v))
		copy(cp, v)
		clone.Add(cp)
	}
	return clone
}
