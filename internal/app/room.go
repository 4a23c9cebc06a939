package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
	"github.com/ideastream/huddle/internal/media"
)

// Room is the server-side state for one active call: the routing context
// plus the set of joined peers. A room is pinned to one worker for its
// whole lifetime.
type Room struct {
	ID        domain.RoomID
	WorkerID  int
	Router    *media.Router
	CreatedAt time.Time

	startOnce sync.Once

	mu     sync.RWMutex
	closed bool
	peers  map[domain.PeerID]*Peer
}

// NotifyOnce runs fn at most once for the room's lifetime, regardless of
// how many join paths raced room creation. Used for the call-started
// notification.
func (r *Room) NotifyOnce(fn func()) {
	r.startOnce.Do(fn)
}

func NewRoom(id domain.RoomID, workerID int, router *media.Router) *Room {
	return &Room{
		ID:        id,
		WorkerID:  workerID,
		Router:    router,
		CreatedAt: time.Now(),
		peers:     make(map[domain.PeerID]*Peer),
	}
}

func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// AddPeer registers a peer. Fails when the room is already closing so a
// join racing the last leave lands on a fresh room instead.
func (r *Room) AddPeer(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return core.ErrRoomNotFound
	}
	r.peers[p.ID] = p
	log.Info().Str("module", "app.room").Str("room", string(r.ID)).Str("peer", string(p.ID)).Str("user", string(p.UserID)).Msg("peer added")
	return nil
}

// CloseIfEmpty marks the room closed only when no peers remain. A join
// racing this either landed its peer first (the room stays open) or finds
// AddPeer failing and retries against a fresh room. Returns whether the
// room closed.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.peers) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) RemovePeer(id domain.PeerID) {
	r.mu.Lock()
	delete(r.peers, id)
	r.mu.Unlock()
	log.Info().Str("module", "app.room").Str("room", string(r.ID)).Str("peer", string(id)).Msg("peer removed")
}

func (r *Room) Peer(id domain.PeerID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// PeersSnapshot lists current members, excluding one peer (usually the
// caller).
func (r *Room) PeersSnapshot(exclude domain.PeerID) []domain.PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerInfo, 0, len(r.peers))
	for id, p := range r.peers {
		if id == exclude {
			continue
		}
		out = append(out, p.Info())
	}
	return out
}

// Peers returns the current member set.
func (r *Room) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Producers lists every track published in the room, excluding one peer's
// own. Used by late joiners to catch up.
func (r *Room) Producers(exclude domain.PeerID) []domain.ProducerInfo {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id == exclude {
			continue
		}
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	var out []domain.ProducerInfo
	for _, p := range peers {
		for _, producer := range p.Producers() {
			out = append(out, domain.ProducerInfo{
				ProducerID: producer.ID(),
				PeerID:     p.ID,
				UserID:     p.UserID,
				Kind:       producer.Kind(),
			})
		}
	}
	return out
}

// FindProducer locates a producer and its owning peer within this room
// only, so a consume can never reach across rooms.
func (r *Room) FindProducer(producerID string) (*Peer, *media.Producer, bool) {
	for _, p := range r.Peers() {
		if producer, ok := p.Producer(producerID); ok {
			return p, producer, true
		}
	}
	return nil, nil, false
}

// Broadcast fans a frame out to every member present at call time except
// the origin. Delivery is per-peer best effort; slow peers are reported
// back, not waited on.
func (r *Room) Broadcast(from domain.PeerID, frame core.Frame) core.PublishResult {
	r.mu.RLock()
	targets := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id == from {
			continue
		}
		targets = append(targets, p)
	}
	r.mu.RUnlock()

	res := core.PublishResult{}
	for _, p := range targets {
		if err := p.Signal().TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, p.ID)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "app.room").Str("room", string(r.ID)).Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// Close tears down every peer's resources and then the routing context.
// Idempotent; returns the peers that were still present so the caller can
// purge them from the global index.
func (r *Room) Close() []*Peer {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.peers = map[domain.PeerID]*Peer{}
	r.mu.Unlock()

	for _, p := range peers {
		p.CloseResources()
	}
	r.Router.Close()
	log.Info().Str("module", "app.room").Str("room", string(r.ID)).Msg("room closed")
	return peers
}
