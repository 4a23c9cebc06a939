package app

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ideastream/huddle/internal/domain"
	"github.com/ideastream/huddle/internal/media"
)

// Registry owns every room and the global peer index. It is the single
// authority on room identity: at most one room exists per call id, ever,
// and the round-robin worker cursor lives here as part of that guarantee.
type Registry struct {
	engine *media.Engine
	codecs []webrtc.RTPCodecCapability

	mu         sync.RWMutex
	rooms      map[domain.RoomID]*Room
	peers      map[domain.PeerID]*Peer
	nextWorker int

	createGroup singleflight.Group
}

func NewRegistry(engine *media.Engine, codecs []webrtc.RTPCodecCapability) *Registry {
	return &Registry{
		engine: engine,
		codecs: codecs,
		rooms:  make(map[domain.RoomID]*Room),
		peers:  make(map[domain.PeerID]*Peer),
	}
}

// Room is a lookup with no side effect.
func (reg *Registry) Room(id domain.RoomID) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[id]
	return room, ok
}

// GetOrCreateRoom returns the room for a call id, creating it on the next
// worker if absent. Concurrent calls for the same id collapse onto one
// creation; the router is built outside the registry lock because it is a
// blocking media-engine call.
func (reg *Registry) GetOrCreateRoom(id domain.RoomID) (*Room, error) {
	reg.mu.RLock()
	room, ok := reg.rooms[id]
	reg.mu.RUnlock()
	if ok {
		return room, nil
	}

	v, err, _ := reg.createGroup.Do(string(id), func() (any, error) {
		reg.mu.Lock()
		if room, ok := reg.rooms[id]; ok {
			reg.mu.Unlock()
			return room, nil
		}
		workerID := reg.nextWorker
		reg.nextWorker = (reg.nextWorker + 1) % reg.engine.Workers()
		reg.mu.Unlock()

		worker := reg.engine.Worker(workerID)
		router, err := worker.CreateRouter(reg.codecs)
		if err != nil {
			return nil, fmt.Errorf("create router for room %s: %w", id, err)
		}

		room := NewRoom(id, workerID, router)
		reg.mu.Lock()
		reg.rooms[id] = room
		reg.mu.Unlock()

		log.Info().Str("module", "app.registry").Str("room", string(id)).Int("worker", workerID).Msg("room created")
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// CloseRoom tears a room down: every peer's resources, then the routing
// context, then the registry entry and peer-index entries. Safe to call on
// an unknown or already-closed id.
func (reg *Registry) CloseRoom(id domain.RoomID) {
	reg.mu.Lock()
	room, ok := reg.rooms[id]
	if ok {
		delete(reg.rooms, id)
	}
	reg.mu.Unlock()
	if !ok {
		return
	}

	peers := room.Close()

	reg.mu.Lock()
	for _, p := range peers {
		delete(reg.peers, p.ID)
	}
	reg.mu.Unlock()
}

// CloseRoomIfEmpty removes and closes the room only when it has no peers.
// The empty check and the registry removal happen under one lock, so a
// closed room is never left registered and a room with a freshly added
// peer is never torn down.
func (reg *Registry) CloseRoomIfEmpty(id domain.RoomID) bool {
	reg.mu.Lock()
	room, ok := reg.rooms[id]
	if !ok || !room.CloseIfEmpty() {
		reg.mu.Unlock()
		return false
	}
	delete(reg.rooms, id)
	reg.mu.Unlock()

	room.Router.Close()
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("empty room closed")
	return true
}

// AddPeer registers a peer in the global index.
func (reg *Registry) AddPeer(p *Peer) {
	reg.mu.Lock()
	reg.peers[p.ID] = p
	reg.mu.Unlock()
}

// Peer looks a peer up by id.
func (reg *Registry) Peer(id domain.PeerID) (*Peer, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	p, ok := reg.peers[id]
	return p, ok
}

// TakePeer removes a peer from the index and reports whether this call was
// the one that removed it. Leave paths race through here; exactly one wins.
func (reg *Registry) TakePeer(id domain.PeerID) (*Peer, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	p, ok := reg.peers[id]
	if !ok {
		return nil, false
	}
	delete(reg.peers, id)
	return p, true
}

// Stats returns the operational snapshot.
func (reg *Registry) Stats() domain.Stats {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return domain.Stats{
		Rooms:   len(reg.rooms),
		Peers:   len(reg.peers),
		Workers: reg.engine.Workers(),
	}
}
