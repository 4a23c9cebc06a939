// Package orch glues the registry, the media engine, and the external
// collaborator ports together. Every signaling request lands here; every
// server push originates here.
package orch

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/app"
	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
)

type Orchestrator struct {
	Registry   *app.Registry
	Membership core.Membership
	Events     core.CallEvents
	Policy     app.Policy

	// MaxIncomingBitrate caps inbound media per send transport, 0 = off.
	MaxIncomingBitrate uint64
}

// Push event names, mirrored by the client.
const (
	PushPeerJoined     = "peerJoined"
	PushPeerLeft       = "peerLeft"
	PushNewProducer    = "newProducer"
	PushProducerClosed = "producerClosed"
	PushCallEnded      = "callEnded"
)

type pushEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func encodePush(typ string, data any) (core.Frame, error) {
	b, err := json.Marshal(pushEnvelope{Type: typ, Data: data})
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

// push delivers one event to one peer, best effort.
func (o *Orchestrator) push(p *app.Peer, typ string, data any) {
	frame, err := encodePush(typ, data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", typ).Msg("encode push")
		return
	}
	if err := p.Signal().TrySend(frame); err != nil {
		log.Warn().Str("module", "orch").Str("peer", string(p.ID)).Str("type", typ).Msg("push dropped")
	}
}

// broadcast fans an event out to the room, excluding the origin peer, and
// applies the backpressure policy to anyone whose queue rejected it.
func (o *Orchestrator) broadcast(room *app.Room, from domain.PeerID, typ string, data any) {
	frame, err := encodePush(typ, data)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", typ).Msg("encode broadcast")
		return
	}
	res := room.Broadcast(from, frame)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackpressure(room, slow) {
		case app.KickPeer:
			log.Warn().Str("module", "orch").Str("peer", string(slow)).Str("room", string(room.ID)).Msg("kicking slow peer")
			o.Leave(slow)
		case app.NoAction, app.DropMessage:
		}
	}
}

// Stats exposes the registry snapshot for the operational endpoint.
func (o *Orchestrator) Stats() domain.Stats {
	return o.Registry.Stats()
}
