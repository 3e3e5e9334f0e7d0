// Package wire defines the on-wire message grammar shared by the JSON and
// CBOR encodings, and the codec that translates between them and
// in-memory messages.
package wire

import "driftdb/internal/store"

// Inbound message type tags (client -> server).
const (
	TypeSubscribe = "subscribe"
	TypeGet       = "get"
	TypePush      = "push"
	TypePing      = "ping"
)

// Outbound message type tags (server -> client).
const (
	TypeInit       = "init"
	TypeOutPush    = "push"
	TypeStreamSize = "stream_size"
	TypePong       = "pong"
	TypeError      = "error"
)

// Push action tags.
const (
	ActionAppend  = "append"
	ActionCompact = "compact"
)

// Value is a decoded in-memory payload: the tree shape encoding/json
// hands back from Unmarshal into `any` (nil, bool, float64, string, []any,
// map[string]any), plus []byte for binary data. The CBOR codec decodes
// into the same container shapes; its integers come back as uint64 or
// int64 rather than float64. Because both codecs share these containers,
// a value pushed by a JSON client can be re-encoded as native CBOR byte
// strings for a binary subscriber, and vice versa. The store and the Connection layer
// never need to know which wire encoding a value originated from.
type Value = any

// Action describes the effect of a push: either append a new value, or
// compact the log at Seq, replacing its prefix with Value from the
// enclosing Push message.
type Action struct {
	Type string
	Seq  uint64
}

// Inbound is the closed tagged union of client -> server messages. Only the
// fields relevant to Type are populated; unknown Type values are rejected
// as malformed frames by the codec layer.
type Inbound struct {
	Type   string
	Key    string
	Seq    *uint64
	Action Action
	Value  Value
	Nonce  string
}

// SequenceEntry is one (seq, value) pair as it appears in an init message's
// data array.
type SequenceEntry struct {
	Seq   uint64
	Value Value
}

// Outbound is the closed tagged union of server -> client messages.
type Outbound struct {
	Type    string
	Key     string
	Data    []SequenceEntry
	Seq     uint64
	HasSeq  bool
	Value   Value
	Size    int
	Nonce   string
	Message string
}

// Entries converts store sequence values into wire entries.
func Entries(data []store.SequenceValue) []SequenceEntry {
	out := make([]SequenceEntry, len(data))
	for i, sv := range data {
		out[i] = SequenceEntry{Seq: sv.Seq, Value: sv.Value}
	}
	return out
}

// Init builds an {type:"init", key, data, seq?} outbound message.
func Init(key string, data []SequenceEntry, seq *uint64) Outbound {
	o := Outbound{Type: TypeInit, Key: key, Data: data}
	if seq != nil {
		o.Seq = *seq
		o.HasSeq = true
	}
	return o
}

// Push builds an {type:"push", key, value, seq} outbound message.
func Push(key string, seq uint64, value Value) Outbound {
	return Outbound{Type: TypeOutPush, Key: key, Seq: seq, HasSeq: true, Value: value}
}

// StreamSize builds an {type:"stream_size", key, size} outbound message.
func StreamSize(key string, size int) Outbound {
	return Outbound{Type: TypeStreamSize, Key: key, Size: size}
}

// Pong builds an {type:"pong", nonce} outbound message.
func Pong(nonce string) Outbound {
	return Outbound{Type: TypePong, Nonce: nonce}
}

// Error builds an {type:"error", message} outbound message.
func Error(message string) Outbound {
	return Outbound{Type: TypeError, Message: message}
}
