// Package store implements the per-room stream log: append-only sequences of
// values, subscriber fan-out, and in-band compaction.
package store

import "sync"

// Value is an opaque payload carried by a SequenceValue: a decoded value
// tree (see wire.Value) so that a value pushed by a JSON client can be
// re-encoded for a CBOR subscriber and vice versa. The store never
// inspects it.
type Value = any

// SequenceValue pairs a monotonically assigned sequence number with a value.
type SequenceValue struct {
	Seq   uint64
	Value Value
}

// Subscriber is a back-reference to whatever owns a subscription: a
// Connection delivers pushes and size hints through these callbacks and
// tears down its registration on close. The Stream never owns a Subscriber.
type Subscriber struct {
	// ID keys the subscriber within the Stream: registering a second
	// Subscriber with the same ID replaces the first, and Unsubscribe takes
	// this ID.
	ID uint64

	// OnInit is invoked once, synchronously, when the subscriber is
	// registered or when a compaction forces a re-initialization. It must
	// not block for long; Stream operations are non-suspending critical
	// sections and OnInit runs inside them.
	OnInit func(data []SequenceValue)

	// OnPush is invoked on every append while the subscriber is registered.
	OnPush func(sv SequenceValue)

	// OnSize is invoked after OnPush with the current log length. Advisory.
	OnSize func(size int)
}

// Snapshot is the state returned by Subscribe and Get: the surviving log
// entries plus the compaction floor and the highest seq ever assigned.
type Snapshot struct {
	Entries  []SequenceValue
	FirstSeq uint64
	LastSeq  uint64 // 0 when the stream has never been appended to
}

// Stream is an append-only sequence of values for one (room, key). All
// operations are non-suspending: they only mutate in-memory state and
// invoke subscriber callbacks synchronously; the actual network write
// happens later, in each subscriber's own connection goroutine.
type Stream struct {
	mu sync.Mutex

	log      []SequenceValue
	firstSeq uint64 // compaction floor; stays 1 until the first compaction
	nextSeq  uint64 // 1 + the highest seq ever assigned

	subs map[uint64]*Subscriber
}

// NewStream returns an empty stream with no compaction floor.
func NewStream() *Stream {
	return &Stream{
		firstSeq: 1,
		nextSeq:  1,
		subs:     make(map[uint64]*Subscriber),
	}
}

// Subscribe registers sub and returns the current snapshot, both under one
// lock acquisition, so the snapshot and later pushes neither overlap nor
// leave a gap. Subscribe does not call sub.OnInit: an append made after it
// returns may reach sub.OnPush before the caller has handled the snapshot.
// SubscribeAndDeliver registers and calls OnInit atomically under the lock.
func (s *Stream) Subscribe(sub *Subscriber) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	return s.snapshotLocked()
}

// SubscribeAndDeliver registers sub and synchronously calls sub.OnInit with
// the snapshot, all under one lock acquisition, so no push can land between
// the snapshot being read and the subscription being registered.
func (s *Stream) SubscribeAndDeliver(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	sub.OnInit(s.snapshotLocked().Entries)
}

// Unsubscribe removes sub. Idempotent.
func (s *Stream) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// SubscriberCount reports the number of live subscriptions; used by tests
// to verify teardown releases all stream references.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Get returns the current snapshot without registering a subscription.
func (s *Stream) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Stream) snapshotLocked() Snapshot {
	entries := make([]SequenceValue, len(s.log))
	copy(entries, s.log)
	last := uint64(0)
	if s.nextSeq > 1 {
		last = s.nextSeq - 1
	}
	return Snapshot{Entries: entries, FirstSeq: s.firstSeq, LastSeq: last}
}

// Append assigns the next sequence number to value, stores it, and fans out
// a push to every subscriber followed by a size hint. Returns the assigned
// SequenceValue.
//
// The fan-out happens while the stream lock is held: subscribers must
// observe appends in seq order, and the lock is what serializes concurrent
// Append calls. This is safe only because Subscriber.OnPush/OnSize must
// themselves be non-blocking (buffered enqueue, never a network write).
// See the Connection implementation.
func (s *Stream) Append(value Value) SequenceValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	sv := SequenceValue{Seq: s.nextSeq, Value: value}
	s.nextSeq++
	s.log = append(s.log, sv)
	size := len(s.log)

	for _, sub := range s.subs {
		sub.OnPush(sv)
	}
	for _, sub := range s.subs {
		if sub.OnSize != nil {
			sub.OnSize(size)
		}
	}
	return sv
}

// ErrCompactFuture is returned by Compact when seq >= the next sequence
// number that would be assigned, i.e. the client is compacting into values
// that have not been appended yet.
var ErrCompactFuture = errCompactFuture{}

type errCompactFuture struct{}

func (errCompactFuture) Error() string { return "compaction target is not yet appended" }

// Compact replaces every entry with seq < k with a single reset entry at
// seq = k carrying resetValue, keeps every entry with seq > k untouched, and
// re-initializes every subscriber with the resulting log. next_seq is never
// decremented. A compaction at k < firstSeq (already compacted past k) is a
// silent no-op. Rejects k that has not been assigned yet. Only a compaction
// at the current tail (k = next_seq - 1) collapses the log to one entry;
// any earlier k leaves the entries after it in place.
func (s *Stream) Compact(k uint64, resetValue Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k >= s.nextSeq {
		return ErrCompactFuture
	}
	if k < s.firstSeq {
		return nil
	}

	survivors := make([]SequenceValue, 0, len(s.log))
	for _, sv := range s.log {
		if sv.Seq > k {
			survivors = append(survivors, sv)
		}
	}
	s.log = append([]SequenceValue{{Seq: k, Value: resetValue}}, survivors...)
	s.firstSeq = k
	entries := append([]SequenceValue(nil), s.log...)

	for _, sub := range s.subs {
		sub.OnInit(entries)
	}
	return nil
}

// Since filters entries to those with Seq > since: the snapshot a
// reconnecting subscriber needs once it has already replayed up to *since
// itself.
func Since(entries []SequenceValue, since uint64) []SequenceValue {
	out := make([]SequenceValue, 0, len(entries))
	for _, sv := range entries {
		if sv.Seq > since {
			out = append(out, sv)
		}
	}
	return out
}
