package store

import (
	"errors"
	"sync"
)

// ErrRoomNotFound is returned by GetExisting when the caller wants strict
// 404 semantics rather than auto-create.
var ErrRoomNotFound = errors.New("room not found")

// IDGenerator mints fresh, unguessable room IDs.
type IDGenerator interface {
	New() (string, error)
}

// Directory is the process-wide room_id -> Room mapping. It is safe for
// concurrent use; only serializability of operations on any given Stream
// is required, so a single mutex guarding the map is enough (sharding
// would be an optimization, not a correctness requirement).
type Directory struct {
	ids IDGenerator

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewDirectory returns an empty directory that mints IDs with ids.
func NewDirectory(ids IDGenerator) *Directory {
	return &Directory{
		ids:   ids,
		rooms: make(map[string]*Room),
	}
}

// NewRoom mints a fresh ID, creates an empty Room, and returns it.
func (d *Directory) NewRoom() (*Room, error) {
	for {
		id, err := d.ids.New()
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		if _, exists := d.rooms[id]; exists {
			d.mu.Unlock()
			continue // negligible-probability collision: retry
		}
		room := NewRoom(id)
		d.rooms[id] = room
		d.mu.Unlock()
		return room, nil
	}
}

// GetOrCreate returns the Room for id, creating it lazily if absent: the
// room ID itself is the capability, so any syntactically valid ID is
// admissible. Used by the WebSocket/one-shot adapters.
func (d *Directory) GetOrCreate(id string) *Room {
	d.mu.RLock()
	room, ok := d.rooms[id]
	d.mu.RUnlock()
	if ok {
		return room
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if room, ok = d.rooms[id]; ok {
		return room
	}
	room = NewRoom(id)
	d.rooms[id] = room
	return room
}

// GetExisting returns the Room for id only if it was already minted,
// otherwise ErrRoomNotFound. The HTTP/WebSocket adapters use GetOrCreate
// for `/room/{id}` resolution (see DESIGN.md); GetExisting is kept for
// callers that want strict 404 semantics.
func (d *Directory) GetExisting(id string) (*Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// RoomCount reports how many rooms the directory has minted or seen.
func (d *Directory) RoomCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
