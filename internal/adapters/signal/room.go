package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/domain"
	"github.com/ideastream/huddle/internal/media"
)

var (
	errBadPayload  = errors.New("bad payload")
	errNotJoined   = errors.New("not joined to this call")
	errRateLimited = errors.New("too many join attempts")
)

func (ctl *Controller) createRoom(ctx context.Context, sess *session, data json.RawMessage) (any, error) {
	var p struct {
		CallID string `json:"callId"`
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" || p.UserID == "" {
		return nil, errBadPayload
	}

	codecs, err := ctl.Orch.CreateRoom(ctx, domain.RoomID(p.CallID), domain.UserID(p.UserID))
	if err != nil {
		return nil, err
	}
	return struct {
		SupportedEncodings []webrtc.RTPCodecCapability `json:"supportedEncodings"`
	}{SupportedEncodings: codecs}, nil
}

func (ctl *Controller) joinRoom(ctx context.Context, sess *session, data json.RawMessage) (any, error) {
	var p struct {
		CallID       string             `json:"callId"`
		UserID       string             `json:"userId"`
		DisplayName  string             `json:"displayName"`
		Capabilities media.Capabilities `json:"capabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" || p.UserID == "" {
		return nil, errBadPayload
	}
	if len(p.DisplayName) > domain.MaxDisplayNameLen {
		p.DisplayName = p.DisplayName[:domain.MaxDisplayNameLen]
	}

	userID := domain.UserID(p.UserID)
	if !ctl.limiter.Allow(userID) {
		log.Warn().Str("module", "signal").Str("user", p.UserID).Msg("join rate limited")
		return nil, errRateLimited
	}

	existing, err := ctl.Orch.Join(ctx, sess.peerID, domain.RoomID(p.CallID), userID, p.DisplayName, sess.conn, p.Capabilities)
	if err != nil {
		return nil, err
	}
	sess.setUser(userID)

	return struct {
		PeerID        domain.PeerID     `json:"peerId"`
		ExistingPeers []domain.PeerInfo `json:"existingPeers"`
	}{PeerID: sess.peerID, ExistingPeers: existing}, nil
}

func (ctl *Controller) leaveRoom(sess *session, data json.RawMessage) (any, error) {
	var p struct {
		CallID string `json:"callId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errBadPayload
	}
	// Duplicate leaves (explicit request plus disconnect) are tolerated;
	// the orchestrator no-ops on an unknown peer.
	ctl.Orch.Leave(sess.peerID)
	return map[string]bool{"ok": true}, nil
}

func (ctl *Controller) getProducers(sess *session, data json.RawMessage) (any, error) {
	var p struct {
		CallID string `json:"callId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		return nil, errBadPayload
	}

	producers, err := ctl.Orch.ListProducers(domain.RoomID(p.CallID), sess.peerID)
	if err != nil {
		return nil, err
	}
	return struct {
		Producers []domain.ProducerInfo `json:"producers"`
	}{Producers: producers}, nil
}

// requirePeer resolves the session's joined peer and checks the request
// names the call that peer actually sits in.
func (ctl *Controller) requirePeer(sess *session, callID string) error {
	peer, ok := ctl.Orch.Registry.Peer(sess.peerID)
	if !ok {
		return errNotJoined
	}
	if callID != "" && peer.RoomID != domain.RoomID(callID) {
		return errNotJoined
	}
	return nil
}
