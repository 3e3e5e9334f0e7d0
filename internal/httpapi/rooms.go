// Package httpapi implements the REST surface over the room directory and
// the one-shot (non-subscribing) message adapter.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"driftdb/internal/store"
)

// RoomResult is the response body for POST /new and GET /room/{id}.
type RoomResult struct {
	Room      string `json:"room"`
	SocketURL string `json:"socket_url"`
	HTTPURL   string `json:"http_url"`
}

// Rooms exposes the room directory over HTTP.
type Rooms struct {
	dir        *store.Directory
	socketBase string // e.g. "wss://example.com"
	httpBase   string // e.g. "https://example.com"
}

// NewRooms wraps dir; socketBase/httpBase are the external URL bases used to
// build socket_url/http_url.
func NewRooms(dir *store.Directory, socketBase, httpBase string) *Rooms {
	return &Rooms{dir: dir, socketBase: socketBase, httpBase: httpBase}
}

func (r *Rooms) result(id string) RoomResult {
	return RoomResult{
		Room:      id,
		SocketURL: fmt.Sprintf("%s/room/%s/connect", r.socketBase, id),
		HTTPURL:   fmt.Sprintf("%s/room/%s", r.httpBase, id),
	}
}

// New handles POST /new: mint a fresh room and return its URLs.
func (r *Rooms) New(w http.ResponseWriter, req *http.Request) {
	room, err := r.dir.NewRoom()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, r.result(room.ID))
}

// Get handles GET /room/{id}: resolve a room's URLs. The directory creates
// the room lazily on first reference, so this never 404s.
func (r *Rooms) Get(w http.ResponseWriter, req *http.Request, id string) {
	room := r.dir.GetOrCreate(id)
	writeJSON(w, http.StatusOK, r.result(room.ID))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
