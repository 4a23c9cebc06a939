package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
	"github.com/ideastream/huddle/internal/media"
)

// Peer is one participant's media session within a room. It is the arena
// for everything that participant owns: transports, producers, consumers.
// No resource registered here may outlive the peer.
type Peer struct {
	ID          domain.PeerID
	UserID      domain.UserID
	DisplayName string
	RoomID      domain.RoomID

	caps   media.Capabilities
	signal core.SignalConnection

	mu         sync.Mutex
	closed     bool
	transports map[string]*media.Transport
	producers  map[string]*media.Producer
	consumers  map[string]*media.Consumer
}

func NewPeer(id domain.PeerID, userID domain.UserID, displayName string, roomID domain.RoomID, signal core.SignalConnection, caps media.Capabilities) *Peer {
	return &Peer{
		ID:          id,
		UserID:      userID,
		DisplayName: displayName,
		RoomID:      roomID,
		caps:        caps,
		signal:      signal,
		transports:  make(map[string]*media.Transport),
		producers:   make(map[string]*media.Producer),
		consumers:   make(map[string]*media.Consumer),
	}
}

func (p *Peer) Capabilities() media.Capabilities { return p.caps }
func (p *Peer) Signal() core.SignalConnection    { return p.signal }

func (p *Peer) Info() domain.PeerInfo {
	return domain.PeerInfo{PeerID: p.ID, UserID: p.UserID, DisplayName: p.DisplayName}
}

// AddTransport registers a transport under the peer. Fails once the peer
// has left, so a create racing a leave cannot leak the transport.
func (p *Peer) AddTransport(t *media.Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrPeerClosed
	}
	p.transports[t.ID()] = t
	return nil
}

func (p *Peer) Transport(id string) (*media.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.transports[id]
	return t, ok
}

func (p *Peer) AddProducer(producer *media.Producer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrPeerClosed
	}
	p.producers[producer.ID()] = producer
	return nil
}

func (p *Peer) Producer(id string) (*media.Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	producer, ok := p.producers[id]
	return producer, ok
}

func (p *Peer) RemoveProducer(id string) {
	p.mu.Lock()
	delete(p.producers, id)
	p.mu.Unlock()
}

func (p *Peer) AddConsumer(consumer *media.Consumer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrPeerClosed
	}
	p.consumers[consumer.ID()] = consumer
	return nil
}

func (p *Peer) Consumer(id string) (*media.Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	consumer, ok := p.consumers[id]
	return consumer, ok
}

func (p *Peer) RemoveConsumer(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Producers returns a snapshot of the peer's published tracks.
func (p *Peer) Producers() []*media.Producer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*media.Producer, 0, len(p.producers))
	for _, producer := range p.producers {
		out = append(out, producer)
	}
	return out
}

// ResourceCounts reports how many transports/producers/consumers the peer
// currently owns.
func (p *Peer) ResourceCounts() (transports, producers, consumers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transports), len(p.producers), len(p.consumers)
}

// CloseResources closes everything the peer owns, consumers first and
// transports last, so transport teardown finds its producers already gone.
// After the first call the peer accepts no new resources. Idempotent.
func (p *Peer) CloseResources() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	consumers := make([]*media.Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*media.Producer, 0, len(p.producers))
	for _, producer := range p.producers {
		producers = append(producers, producer)
	}
	transports := make([]*media.Transport, 0, len(p.transports))
	for _, t := range p.transports {
		transports = append(transports, t)
	}
	p.consumers = map[string]*media.Consumer{}
	p.producers = map[string]*media.Producer{}
	p.transports = map[string]*media.Transport{}
	p.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, producer := range producers {
		producer.Close()
	}
	for _, t := range transports {
		t.Close()
	}
	log.Info().Str("module", "app.peer").Str("peer", string(p.ID)).Str("room", string(p.RoomID)).Msg("peer resources closed")
}
