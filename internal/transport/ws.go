package transport

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsSender adapts a raw net.Conn upgraded to WebSocket into conn.Sender. It
// serializes writes with a mutex since conn.Connection's writer goroutine is
// the only caller, but Close may be invoked concurrently from a read-loop
// error path.
type wsSender struct {
	mu     sync.Mutex
	raw    net.Conn
	binary bool
	closed bool
}

func newWSSender(raw net.Conn, binary bool) *wsSender {
	return &wsSender{raw: raw, binary: binary}
}

func (s *wsSender) Send(frame []byte) error {
	op := ws.OpText
	if s.binary {
		op = ws.OpBinary
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("send on closed connection")
	}
	return wsutil.WriteServerMessage(s.raw, op, frame)
}

func (s *wsSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.raw.Close()
}

// readLoop pulls frames off raw until the connection closes or a fatal
// protocol error occurs, handing each text/binary payload to onFrame and
// replying to pings itself. It returns when the peer disconnects.
func readLoop(raw net.Conn, onFrame func(payload []byte)) error {
	reader := wsutil.NewReader(raw, ws.StateServerSide)
	for {
		head, err := reader.NextFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch head.OpCode {
		case ws.OpClose:
			_ = wsutil.WriteServerMessage(raw, ws.OpClose, nil)
			return nil
		case ws.OpPing:
			payload := make([]byte, head.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return err
			}
			if err := wsutil.WriteServerMessage(raw, ws.OpPong, payload); err != nil {
				return err
			}
		case ws.OpText, ws.OpBinary:
			payload := make([]byte, head.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return err
			}
			onFrame(payload)
		default:
			if _, err := io.CopyN(io.Discard, reader, int64(head.Length)); err != nil {
				return err
			}
		}
	}
}
