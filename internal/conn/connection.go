// Package conn implements the per-client message state machine: it decodes
// inbound wire messages, mutates streams in a Room, and relays outbound
// messages back to its one transport.
package conn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"driftdb/internal/metrics"
	"driftdb/internal/store"
	"driftdb/internal/wire"
)

// State is the Connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// Sender delivers one already-encoded outbound frame to the client. It must
// not block for long. Connection enqueues frames onto a bounded buffer and
// a single writer goroutine drains it onto the real transport
// (net.Conn/websocket); Sender is that drain step.
type Sender interface {
	Send(frame []byte) error
	Close() error
}

var nextConnID uint64
var nextSubID uint64

// Connection mediates one transport: exactly one Room, a binary-mode flag
// sticky for its lifetime, and the set of streams it is currently
// subscribed to.
type Connection struct {
	ID     uint64
	binary bool
	debug  bool
	room    *store.Room
	sender  Sender
	log     *zap.Logger
	metrics *metrics.Registry // optional
	onMsg   OutboundHook      // optional hook for tests and debug instrumentation

	sendMu    sync.Mutex // guards queue send vs. close, see emit/Close
	queue     chan []byte
	queueCap  int
	closedOut bool

	subsMu sync.Mutex
	subs   map[string]subscription // key -> subscription

	state atomic.Int32

	writerOnce sync.Once
}

type subscription struct {
	id     uint64
	stream *store.Stream
}

// OutboundHook, when set, is invoked with every outbound message the
// Connection would otherwise encode and enqueue. Tests use it to assert
// on message sequences without standing up a real transport.
type OutboundHook func(wire.Outbound)

// Options configures a new Connection.
type Options struct {
	Binary     bool
	Debug      bool
	QueueDepth int // outbound queue depth before the connection is dropped
	Logger     *zap.Logger
	Metrics    *metrics.Registry
	OnOutbound OutboundHook
}

// New creates a Connection bound to room and sender, in StateConnecting. The
// caller must call Open once the transport handshake completes, and Close
// exactly once when the transport goes away.
func New(room *store.Room, sender Sender, opts Options) *Connection {
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Connection{
		ID:         atomic.AddUint64(&nextConnID, 1),
		binary:     opts.Binary,
		debug:      opts.Debug,
		room:       room,
		sender:     sender,
		log:        logger,
		metrics:    opts.Metrics,
		onMsg:      opts.OnOutbound,
		queue:      make(chan []byte, depth),
		queueCap:   depth,
		subs:       make(map[string]subscription),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State reports the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Open transitions Connecting -> Open and, in debug mode, starts eagerly
// subscribing to every stream the room creates from here on.
func (c *Connection) Open() {
	c.state.Store(int32(StateOpen))
	if c.debug {
		c.room.AddNewKeyListener(c.ID, func(key string, s *store.Stream) {
			c.subscribeLocked(key, s, nil)
		})
	}
}

// StartWriter drains the outbound queue onto sender until the queue is
// closed or a send fails. Call once per connection, typically in its own
// goroutine (the transport's write loop).
//
// This goroutine is spawned directly rather than run inside an http.Handler,
// so it gets none of net/http's per-request panic recovery; a panic here
// recovers on its own so it only tears down this one Connection instead of
// the process. HandleFrame, by contrast, runs on the goroutine net/http
// started for the upgrade request, where the transport's connect handler
// recovers a panic and closes the Connection.
func (c *Connection) StartWriter() {
	c.writerOnce.Do(func() {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("writer goroutine panicked, closing connection", zap.Any("panic", r))
					go c.Close()
				}
			}()
			for frame := range c.queue {
				if err := c.sender.Send(frame); err != nil {
					c.log.Debug("send failed, closing connection", zap.Error(err))
					go c.Close()
					return
				}
			}
		}()
	})
}

// HandleFrame decodes one inbound frame and applies its effect. Errors in
// decoding or in the underlying store surface as a wire error message to
// this connection only; they never propagate to other connections or tear
// this one down.
func (c *Connection) HandleFrame(frame []byte) {
	in, err := wire.DecodeInbound(frame, c.binary)
	if err != nil {
		if c.metrics != nil {
			c.metrics.Messages.MalformedFrames.Inc()
		}
		c.emit(wire.Error(err.Error()))
		return
	}

	switch in.Type {
	case wire.TypeSubscribe:
		c.handleSubscribe(in)
	case wire.TypeGet:
		c.handleGet(in)
	case wire.TypePush:
		c.handlePush(in)
	case wire.TypePing:
		c.emit(wire.Pong(in.Nonce))
	}
}

func (c *Connection) handleSubscribe(in wire.Inbound) {
	stream := c.room.GetOrCreate(in.Key)
	since := uint64(0)
	if in.Seq != nil {
		since = *in.Seq
	}
	c.subscribeLocked(in.Key, stream, &since)
}

// subscribeLocked registers this connection's subscriber on stream and
// delivers the filtered init snapshot. since, when non-nil, excludes
// entries with seq <= *since (a reconnecting client replaying only the
// tail it hasn't seen).
func (c *Connection) subscribeLocked(key string, stream *store.Stream, since *uint64) {
	c.subsMu.Lock()
	if old, ok := c.subs[key]; ok {
		c.subsMu.Unlock()
		stream.Unsubscribe(old.id)
		c.subsMu.Lock()
	}
	id := atomic.AddUint64(&nextSubID, 1)
	c.subs[key] = subscription{id: id, stream: stream}
	c.subsMu.Unlock()

	// floor/since only apply to the initial snapshot delivered by this
	// SubscribeAndDeliver call: once subscribed, every later push and
	// compaction re-init is forwarded in full.
	floor := uint64(0)
	if since != nil {
		floor = *since
	}
	stream.SubscribeAndDeliver(&store.Subscriber{
		ID: id,
		OnInit: func(data []store.SequenceValue) {
			c.emit(wire.Init(key, wire.Entries(store.Since(data, floor)), since))
			floor = 0
		},
		OnPush: func(sv store.SequenceValue) {
			if c.metrics != nil {
				c.metrics.Messages.PushesDelivered.Inc()
			}
			c.emit(wire.Push(key, sv.Seq, sv.Value))
		},
		OnSize: func(size int) {
			c.emit(wire.StreamSize(key, size))
		},
	})
}

func (c *Connection) handleGet(in wire.Inbound) {
	stream := c.room.GetOrCreate(in.Key)
	since := uint64(0)
	if in.Seq != nil {
		since = *in.Seq
	}
	snap := stream.Get()
	c.emit(wire.Init(in.Key, wire.Entries(store.Since(snap.Entries, since)), in.Seq))
}

func (c *Connection) handlePush(in wire.Inbound) {
	stream := c.room.GetOrCreate(in.Key)
	switch in.Action.Type {
	case wire.ActionAppend:
		stream.Append(in.Value)
		if c.metrics != nil {
			c.metrics.Messages.AppendsTotal.Inc()
		}
	case wire.ActionCompact:
		if err := stream.Compact(in.Action.Seq, in.Value); err != nil {
			c.emit(wire.Error(fmt.Sprintf("compact key %q: %v", in.Key, err)))
		} else if c.metrics != nil {
			c.metrics.Messages.CompactionsTotal.Inc()
		}
	}
}

// emit encodes msg and enqueues it for delivery. If the outbound queue is
// full the connection is torn down rather than silently dropping or
// reordering frames mid-stream, since blocking here would stall every other
// subscriber sharing the stream's single critical section.
func (c *Connection) emit(msg wire.Outbound) {
	if c.onMsg != nil {
		c.onMsg(msg)
	}
	if c.State() != StateOpen {
		return
	}

	frame, err := wire.EncodeOutbound(msg, c.binary)
	if err != nil {
		c.log.Error("encode outbound failed", zap.Error(err))
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closedOut {
		return
	}
	select {
	case c.queue <- frame:
	default:
		c.log.Warn("outbound queue full, disconnecting slow subscriber")
		if c.metrics != nil {
			c.metrics.Messages.SlowSubscriberDrops.Inc()
		}
		go c.Close()
	}
}

// Close tears the connection down: it unsubscribes from every stream and
// debug listener before returning, so no Room/Stream retains a reference
// to this Connection once Close has returned.
func (c *Connection) Close() error {
	prev := State(c.state.Swap(int32(StateClosing)))
	if prev == StateClosed || prev == StateClosing {
		return nil
	}

	c.room.RemoveNewKeyListener(c.ID)

	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[string]subscription)
	c.subsMu.Unlock()
	for _, s := range subs {
		s.stream.Unsubscribe(s.id)
	}

	c.sendMu.Lock()
	c.closedOut = true
	close(c.queue)
	c.sendMu.Unlock()

	c.state.Store(int32(StateClosed))
	return c.sender.Close()
}
