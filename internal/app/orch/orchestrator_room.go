package orch

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/app"
	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
	"github.com/ideastream/huddle/internal/media"
)

// CreateRoom get-or-creates the room for a call and returns the codec set
// clients must declare capabilities against. Gated on membership before any
// state exists.
func (o *Orchestrator) CreateRoom(ctx context.Context, callID domain.RoomID, userID domain.UserID) ([]webrtc.RTPCodecCapability, error) {
	if err := o.Membership.Authorize(ctx, callID, userID); err != nil {
		return nil, err
	}
	room, err := o.Registry.GetOrCreateRoom(callID)
	if err != nil {
		return nil, err
	}
	o.notifyStarted(ctx, room, userID)
	return room.Router.Codecs(), nil
}

// Join creates the peer, registers it in its room and the global index,
// tells the room about it, and returns who was already there. The
// authorization check runs before any room or peer state is touched.
func (o *Orchestrator) Join(
	ctx context.Context,
	peerID domain.PeerID,
	callID domain.RoomID,
	userID domain.UserID,
	displayName string,
	signal core.SignalConnection,
	caps media.Capabilities,
) ([]domain.PeerInfo, error) {
	if err := o.Membership.Authorize(ctx, callID, userID); err != nil {
		return nil, err
	}

	// A reconnecting client may reuse its peer id; the old session is torn
	// down first so both cannot coexist.
	if _, ok := o.Registry.Peer(peerID); ok {
		log.Info().Str("module", "orch").Str("peer", string(peerID)).Msg("rejoining peer, closing previous session")
		o.Leave(peerID)
	}

	room, err := o.Registry.GetOrCreateRoom(callID)
	if err != nil {
		return nil, err
	}

	peer := app.NewPeer(peerID, userID, displayName, callID, signal, caps)
	if err := room.AddPeer(peer); err != nil {
		// The room emptied and closed between lookup and add; retry lands
		// on a fresh room.
		room, err = o.Registry.GetOrCreateRoom(callID)
		if err != nil {
			return nil, err
		}
		if err := room.AddPeer(peer); err != nil {
			return nil, err
		}
	}
	// Notified only after the add stuck, so a retried join still announces
	// the recreated call.
	o.notifyStarted(ctx, room, userID)
	o.Registry.AddPeer(peer)

	existing := room.PeersSnapshot(peerID)
	o.broadcast(room, peerID, PushPeerJoined, peer.Info())

	log.Info().Str("module", "orch").Str("peer", string(peerID)).Str("user", string(userID)).Str("room", string(callID)).Msg("peer joined")
	return existing, nil
}

// Leave is the single cleanup routine for explicit leave and disconnect.
// Both paths converge here and the second caller finds nothing to do.
func (o *Orchestrator) Leave(peerID domain.PeerID) {
	peer, ok := o.Registry.TakePeer(peerID)
	if !ok {
		return
	}

	peer.CloseResources()

	room, ok := o.Registry.Room(peer.RoomID)
	if !ok {
		return
	}
	room.RemovePeer(peerID)
	o.broadcast(room, peerID, PushPeerLeft, peer.Info())

	if o.Registry.CloseRoomIfEmpty(room.ID) {
		if o.Events != nil {
			o.Events.CallEnded(context.Background(), room.ID, "all participants left")
		}
	}
	log.Info().Str("module", "orch").Str("peer", string(peerID)).Str("room", string(peer.RoomID)).Msg("peer left")
}

// EndCall is the administrative teardown driven by the call-management
// service. It converges on the same room close as the last-peer-leaves
// path, after warning the remaining participants.
func (o *Orchestrator) EndCall(ctx context.Context, callID domain.RoomID, reason string) error {
	room, ok := o.Registry.Room(callID)
	if !ok {
		return core.ErrRoomNotFound
	}

	o.broadcast(room, "", PushCallEnded, struct {
		CallID domain.RoomID `json:"callId"`
		Reason string        `json:"reason"`
	}{CallID: callID, Reason: reason})

	o.Registry.CloseRoom(callID)
	if o.Events != nil {
		o.Events.CallEnded(ctx, callID, reason)
	}
	log.Info().Str("module", "orch").Str("room", string(callID)).Str("reason", reason).Msg("call ended")
	return nil
}

func (o *Orchestrator) notifyStarted(ctx context.Context, room *app.Room, userID domain.UserID) {
	if o.Events == nil {
		return
	}
	room.NotifyOnce(func() {
		o.Events.CallStarted(ctx, domain.CallSummary{
			CallID:    room.ID,
			StartedBy: userID,
			StartedAt: time.Now(),
		})
	})
}
