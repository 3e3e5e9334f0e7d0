package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"driftdb/internal/store"
	"driftdb/internal/wire"
)

// OneShot exposes a non-subscribing request/response surface over the same
// message grammar the WebSocket connections use: POST a single inbound
// message, get back its result, with no subscription left behind.
type OneShot struct {
	dir *store.Directory
}

// NewOneShot wraps dir.
func NewOneShot(dir *store.Directory) *OneShot {
	return &OneShot{dir: dir}
}

// Send handles POST /room/{id}/send.
func (o *OneShot) Send(w http.ResponseWriter, req *http.Request, roomID string) {
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	in, err := wire.DecodeInbound(body, false) // the HTTP surface is JSON-only
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room := o.dir.GetOrCreate(roomID)

	switch in.Type {
	case wire.TypeGet:
		stream := room.GetOrCreate(in.Key)
		since := uint64(0)
		if in.Seq != nil {
			since = *in.Seq
		}
		snap := stream.Get()
		writeJSON(w, http.StatusOK, wire.Init(in.Key, wire.Entries(store.Since(snap.Entries, since)), in.Seq))

	case wire.TypePush:
		stream := room.GetOrCreate(in.Key)
		switch in.Action.Type {
		case wire.ActionAppend:
			stream.Append(in.Value)
		case wire.ActionCompact:
			if err := stream.Compact(in.Action.Seq, in.Value); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, nil)

	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported one-shot message type %q", in.Type))
	}
}
