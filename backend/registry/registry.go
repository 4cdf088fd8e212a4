package registry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twinlens/twinlens/backend/model"
)

const maxPeers = 2

var (
	ErrRoomFull     = errors.New("room is full")
	ErrRoomNotFound = errors.New("room is not found")
)

// PeerConnection is one participant of a room: its identity, its join
// order, and a non-owning handle to its transport. The websocket session
// owns the actual connection; the registry only uses the wire for relay
// and broadcast.
type PeerConnection struct {
	ID    string
	Index int
	Wire  model.Wire
}

type room struct {
	id        string
	createdAt time.Time
	peers     []*PeerConnection
}

// Status is a read-only view of one room, served by the status endpoint.
type Status struct {
	PeerCount int
	Full      bool
	CreatedAt time.Time
}

// RoomInfo is the reaper's view of a room.
type RoomInfo struct {
	ID        string
	CreatedAt time.Time
}

// Registry is the process-wide authoritative room map. All membership
// mutations go through it under one mutex, so a join's check-and-append is
// atomic: two simultaneous joiners can never both get index 1, and a room
// never holds more than two peers.
type Registry struct {
	mx  *sync.Mutex
	db  map[string]*room
	now func() time.Time
}

func New() *Registry {
	return &Registry{
		mx:  &sync.Mutex{},
		db:  make(map[string]*room),
		now: time.Now,
	}
}

// GetOrCreate returns the room's status, creating an empty room first if
// none exists. CreatedAt is recorded on first creation only.
func (r *Registry) GetOrCreate(roomID string) Status {
	r.mx.Lock()
	defer r.mx.Unlock()
	rm := r.getOrCreateLocked(roomID)
	return Status{
		PeerCount: len(rm.peers),
		Full:      len(rm.peers) >= maxPeers,
		CreatedAt: rm.createdAt,
	}
}

func (r *Registry) getOrCreateLocked(roomID string) *room {
	rm, ok := r.db[roomID]
	if !ok {
		rm = &room{
			id:        roomID,
			createdAt: r.now(),
		}
		r.db[roomID] = rm
	}
	return rm
}

// Join adds a peer to the room, creating the room implicitly when it does
// not exist yet. The returned count is the room's size after the join.
// A full room yields ErrRoomFull and no mutation at all.
//
// announce, when non-nil, runs while the registry lock is still held.
// Whatever it queues on the joiner's wire is therefore ordered before any
// frame produced by a later join of the same room; it must not block.
func (r *Registry) Join(roomID string, wire model.Wire, announce func(pc *PeerConnection, peersCount int)) (*PeerConnection, int, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	rm := r.getOrCreateLocked(roomID)
	if len(rm.peers) >= maxPeers {
		return nil, len(rm.peers), ErrRoomFull
	}
	pc := &PeerConnection{
		ID:    newPeerID(),
		Index: len(rm.peers),
		Wire:  wire,
	}
	rm.peers = append(rm.peers, pc)
	if announce != nil {
		announce(pc, len(rm.peers))
	}
	return pc, len(rm.peers), nil
}

// Leave removes the peer and returns the peers still in the room. A room
// drained to zero is deleted entirely. Unknown room or peer is a no-op, so
// cleanup paths can call it unconditionally.
func (r *Registry) Leave(roomID, peerID string) []*PeerConnection {
	r.mx.Lock()
	defer r.mx.Unlock()

	rm, ok := r.db[roomID]
	if !ok {
		return nil
	}
	for i, pc := range rm.peers {
		if pc.ID == peerID {
			rm.peers = append(rm.peers[:i], rm.peers[i+1:]...)
			break
		}
	}
	if len(rm.peers) == 0 {
		delete(r.db, roomID)
		return nil
	}
	return append([]*PeerConnection(nil), rm.peers...)
}

// Peers returns a snapshot of the room's current membership.
func (r *Registry) Peers(roomID string) []*PeerConnection {
	r.mx.Lock()
	defer r.mx.Unlock()

	rm, ok := r.db[roomID]
	if !ok {
		return nil
	}
	return append([]*PeerConnection(nil), rm.peers...)
}

// Snapshot reports a room's status without creating it.
func (r *Registry) Snapshot(roomID string) (Status, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()

	rm, ok := r.db[roomID]
	if !ok {
		return Status{}, false
	}
	return Status{
		PeerCount: len(rm.peers),
		Full:      len(rm.peers) >= maxPeers,
		CreatedAt: rm.createdAt,
	}, true
}

// ListAll enumerates every room for the reaper.
func (r *Registry) ListAll() []RoomInfo {
	r.mx.Lock()
	defer r.mx.Unlock()

	out := make([]RoomInfo, 0, len(r.db))
	for id, rm := range r.db {
		out = append(out, RoomInfo{ID: id, CreatedAt: rm.createdAt})
	}
	return out
}

// Remove deletes a room unconditionally, bypassing the peer-count check.
// Only the reaper uses this; live transports are left untouched.
func (r *Registry) Remove(roomID string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	delete(r.db, roomID)
}

// Len is the number of active rooms.
func (r *Registry) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.db)
}

// NewRoomID mints a short uppercase room identifier that is not currently
// in use, retrying on the (unlikely) collision.
func (r *Registry) NewRoomID() string {
	r.mx.Lock()
	defer r.mx.Unlock()
	for {
		id := strings.ToUpper(uuid.NewString()[:8])
		if _, ok := r.db[id]; !ok {
			return id
		}
	}
}

func newPeerID() string {
	return uuid.NewString()[:8]
}
