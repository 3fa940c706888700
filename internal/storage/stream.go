package storage

import "fmt"

// StreamID is a (milliseconds, sequence) pair, formatted as "ms-seq" the way
// XADD-family commands exchange IDs over the wire.
type StreamID struct {
	Ms  uint64
	Seq uint64
}

func (id StreamID) String() string { return fmt.Sprintf("%d-%d", id.Ms, id.Seq) }

func (id StreamID) Less(other StreamID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// StreamField is one field=value pair of a stream entry.
type StreamField struct {
	Field []byte
	Value []byte
}

// StreamEntry is one appended record.
type StreamEntry struct {
	ID     StreamID
	Fields []StreamField
}

// PendingEntry tracks one unacknowledged delivery to a consumer.
type PendingEntry struct {
	ID          StreamID
	Consumer    string
	DeliveredAt int64 // unix millis
	DeliveryCnt uint64
}

// ConsumerGroup tracks one named group's read cursor and pending-entries
// list, the minimum state XREADGROUP/XACK/XCLAIM need.
type ConsumerGroup struct {
	LastDelivered StreamID
	Pending       map[string]*PendingEntry // key: ID.String()
	Consumers     map[string]struct{}
}

func newConsumerGroup(start StreamID) *ConsumerGroup {
	return &ConsumerGroup{
		LastDelivered: start,
		Pending:       make(map[string]*PendingEntry),
		Consumers:     make(map[string]struct{}),
	}
}

// Stream is the append-only log backing the Stream DataValue variant.
type Stream struct {
	Entries    []StreamEntry
	LastID     StreamID
	MaxDeleted StreamID
	Groups     map[string]*ConsumerGroup
}

func NewStream() *Stream {
	return &Stream{Groups: make(map[string]*ConsumerGroup)}
}

// Append adds an entry with an auto-generated ID derived from nowMs,
// guaranteeing strict monotonicity even when called twice within the same
// millisecond.
func (s *Stream) Append(nowMs uint64, fields []StreamField) StreamID {
	id := StreamID{Ms: nowMs, Seq: 0}
	if id.Ms == s.LastID.Ms {
		id.Seq = s.LastID.Seq + 1
	} else if id.Ms < s.LastID.Ms {
		id = StreamID{Ms: s.LastID.Ms, Seq: s.LastID.Seq + 1}
	}
	s.Entries = append(s.Entries, StreamEntry{ID: id, Fields: fields})
	s.LastID = id
	return id
}

func (s *Stream) Len() int { return len(s.Entries) }

// CreateGroup registers a consumer group starting its read cursor at start.
func (s *Stream) CreateGroup(name string, start StreamID) {
	s.Groups[name] = newConsumerGroup(start)
}

func (s *Stream) MemoryUsage() int {
	total := 0
	for _, e := range s.Entries {
		total += 16 // ID
		for _, f := range e.Fields {
			total += len(f.Field) + len(f.Value)
		}
	}
	for name, g := range s.Groups {
		total += len(name) + len(g.Pending)*32
	}
	return total
}

func (s *Stream) Clone() *Stream {
	clone := NewStream()
	clone.LastID = s.LastID
	clone.MaxDeleted = s.MaxDeleted
	clone.Entries = make([]StreamEntry, len(s.Entries))
	copy(clone.Entries, s.Entries)
	for name, g := range s.Groups {
		ng := newConsumerGroup(g.LastDelivered)
		for id, p := range g.Pending {
			cp := *p
			ng.Pending[id] = &cp
		}
		for c := range g.Consumers {
			ng.Consumers[c] = struct{}{}
		}
		clone.Groups[name] = ng
	}
	return clone
}
