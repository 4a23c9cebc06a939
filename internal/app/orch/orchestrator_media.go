package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
	"github.com/ideastream/huddle/internal/media"
)

// ConsumerDescriptor is the result of a consume: everything the subscriber
// needs to attach the forwarded track, plus who it came from.
type ConsumerDescriptor struct {
	ConsumerID    string              `json:"consumerId"`
	ProducerID    string              `json:"producerId"`
	Kind          domain.MediaKind    `json:"kind"`
	RTPParameters media.RTPParameters `json:"rtpParameters"`
	SourcePeerID  domain.PeerID       `json:"sourcePeerId"`
	SourceUserID  domain.UserID       `json:"sourceUserId"`
}

// CreateTransport allocates a send or recv transport on the peer's room
// router and registers it under the peer.
func (o *Orchestrator) CreateTransport(peerID domain.PeerID, direction domain.Direction) (media.TransportInfo, error) {
	peer, ok := o.Registry.Peer(peerID)
	if !ok {
		return media.TransportInfo{}, core.ErrPeerNotFound
	}
	room, ok := o.Registry.Room(peer.RoomID)
	if !ok {
		return media.TransportInfo{}, core.ErrRoomNotFound
	}

	transport, err := room.Router.CreateTransport(direction)
	if err != nil {
		return media.TransportInfo{}, err
	}
	if direction == domain.DirectionSend && o.MaxIncomingBitrate > 0 {
		transport.SetMaxIncomingBitrate(o.MaxIncomingBitrate)
	}

	if err := peer.AddTransport(transport); err != nil {
		// Peer left between lookup and registration; do not leak it.
		transport.Close()
		return media.TransportInfo{}, err
	}

	log.Info().Str("module", "orch").Str("peer", string(peerID)).Str("transport", transport.ID()).Str("direction", string(direction)).Msg("transport created")
	return transport.Info(), nil
}

// ConnectTransport completes the client's handshake for an existing
// transport.
func (o *Orchestrator) ConnectTransport(peerID domain.PeerID, transportID string, remote media.DTLSParameters) error {
	peer, ok := o.Registry.Peer(peerID)
	if !ok {
		return core.ErrPeerNotFound
	}
	transport, ok := peer.Transport(transportID)
	if !ok {
		return core.ErrTransportNotFound
	}
	return transport.Connect(remote)
}

// Produce publishes a track on the peer's send transport and announces it
// to every other peer in the room, exactly once.
func (o *Orchestrator) Produce(
	peerID domain.PeerID,
	transportID string,
	kind domain.MediaKind,
	params media.RTPParameters,
	appData map[string]any,
) (string, error) {
	peer, ok := o.Registry.Peer(peerID)
	if !ok {
		return "", core.ErrPeerNotFound
	}
	room, ok := o.Registry.Room(peer.RoomID)
	if !ok {
		return "", core.ErrRoomNotFound
	}
	transport, ok := peer.Transport(transportID)
	if !ok {
		return "", core.ErrTransportNotFound
	}

	if appData == nil {
		appData = make(map[string]any)
	}
	appData["peerId"] = string(peerID)
	appData["userId"] = string(peer.UserID)

	producer, err := transport.Produce(kind, params, appData)
	if err != nil {
		return "", err
	}
	if err := peer.AddProducer(producer); err != nil {
		producer.Close()
		return "", err
	}
	// Keep the peer's arena honest when the producer dies through a
	// transport-level cascade rather than an explicit close.
	producer.OnClose(func() {
		peer.RemoveProducer(producer.ID())
	})

	o.broadcast(room, peerID, PushNewProducer, domain.ProducerInfo{
		ProducerID: producer.ID(),
		PeerID:     peerID,
		UserID:     peer.UserID,
		Kind:       kind,
	})

	log.Info().Str("module", "orch").Str("peer", string(peerID)).Str("producer", producer.ID()).Str("kind", string(kind)).Msg("producer created")
	return producer.ID(), nil
}

// Consume subscribes the peer to a producer in its own room through its
// recv transport. Producers in other rooms are invisible here. The
// consumer comes back paused.
func (o *Orchestrator) Consume(
	peerID domain.PeerID,
	transportID string,
	producerID string,
	caps media.Capabilities,
) (ConsumerDescriptor, error) {
	peer, ok := o.Registry.Peer(peerID)
	if !ok {
		return ConsumerDescriptor{}, core.ErrPeerNotFound
	}
	room, ok := o.Registry.Room(peer.RoomID)
	if !ok {
		return ConsumerDescriptor{}, core.ErrRoomNotFound
	}
	transport, ok := peer.Transport(transportID)
	if !ok {
		return ConsumerDescriptor{}, core.ErrTransportNotFound
	}

	sourcePeer, _, ok := room.FindProducer(producerID)
	if !ok {
		return ConsumerDescriptor{}, core.ErrProducerNotFound
	}

	consumer, err := transport.Consume(producerID, caps)
	if err != nil {
		return ConsumerDescriptor{}, err
	}
	if err := peer.AddConsumer(consumer); err != nil {
		consumer.Close()
		return ConsumerDescriptor{}, err
	}
	consumer.OnClose(func() {
		peer.RemoveConsumer(consumer.ID())
	})

	log.Info().Str("module", "orch").Str("peer", string(peerID)).Str("consumer", consumer.ID()).Str("producer", producerID).Msg("consumer created")
	return ConsumerDescriptor{
		ConsumerID:    consumer.ID(),
		ProducerID:    producerID,
		Kind:          consumer.Kind(),
		RTPParameters: consumer.Params(),
		SourcePeerID:  sourcePeer.ID,
		SourceUserID:  sourcePeer.UserID,
	}, nil
}

// ResumeConsumer lets media flow on a consumer. Only the owning peer can
// reach its consumers, so ownership is enforced by construction.
func (o *Orchestrator) ResumeConsumer(peerID domain.PeerID, consumerID string) error {
	peer, ok := o.Registry.Peer(peerID)
	if !ok {
		return core.ErrPeerNotFound
	}
	consumer, ok := peer.Consumer(consumerID)
	if !ok {
		return core.ErrConsumerNotFound
	}
	return consumer.Resume()
}

// CloseProducer is the explicit unpublish path (stop track, device
// switch). Subscribers are told so they drop their consumers; the server
// side cascade already closed them.
func (o *Orchestrator) CloseProducer(peerID domain.PeerID, producerID string) error {
	peer, ok := o.Registry.Peer(peerID)
	if !ok {
		return core.ErrPeerNotFound
	}
	producer, ok := peer.Producer(producerID)
	if !ok {
		return core.ErrProducerNotFound
	}

	producer.Close()
	peer.RemoveProducer(producerID)

	if room, ok := o.Registry.Room(peer.RoomID); ok {
		o.broadcast(room, peerID, PushProducerClosed, struct {
			ProducerID string        `json:"producerId"`
			PeerID     domain.PeerID `json:"peerId"`
		}{ProducerID: producerID, PeerID: peerID})
	}

	log.Info().Str("module", "orch").Str("peer", string(peerID)).Str("producer", producerID).Msg("producer closed")
	return nil
}

// ListProducers snapshots everything published in the room except the
// asking peer's own tracks, so a late joiner can subscribe to each.
func (o *Orchestrator) ListProducers(roomID domain.RoomID, exclude domain.PeerID) ([]domain.ProducerInfo, error) {
	room, ok := o.Registry.Room(roomID)
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return room.Producers(exclude), nil
}
