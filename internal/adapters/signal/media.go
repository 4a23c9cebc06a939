package signal

import (
	"encoding/json"

	"github.com/ideastream/huddle/internal/domain"
	"github.com/ideastream/huddle/internal/media"
)

func (ctl *Controller) createTransport(sess *session, data json.RawMessage) (any, error) {
	var p struct {
		CallID    string           `json:"callId"`
		Direction domain.Direction `json:"direction"`
	}
	if err := json.Unmarshal(data, &p); err != nil || !p.Direction.Valid() {
		return nil, errBadPayload
	}
	if err := ctl.requirePeer(sess, p.CallID); err != nil {
		return nil, err
	}
	return ctl.Orch.CreateTransport(sess.peerID, p.Direction)
}

func (ctl *Controller) connectTransport(sess *session, data json.RawMessage) (any, error) {
	var p struct {
		CallID           string               `json:"callId"`
		TransportID      string               `json:"transportId"`
		RemoteParameters media.DTLSParameters `json:"remoteParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" {
		return nil, errBadPayload
	}
	if err := ctl.requirePeer(sess, p.CallID); err != nil {
		return nil, err
	}
	if err := ctl.Orch.ConnectTransport(sess.peerID, p.TransportID, p.RemoteParameters); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (ctl *Controller) produce(sess *session, data json.RawMessage) (any, error) {
	var p struct {
		CallID        string              `json:"callId"`
		TransportID   string              `json:"transportId"`
		Kind          domain.MediaKind    `json:"kind"`
		RTPParameters media.RTPParameters `json:"rtpParameters"`
		AppData       map[string]any      `json:"appData"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" || !p.Kind.Valid() {
		return nil, errBadPayload
	}
	if err := ctl.requirePeer(sess, p.CallID); err != nil {
		return nil, err
	}

	producerID, err := ctl.Orch.Produce(sess.peerID, p.TransportID, p.Kind, p.RTPParameters, p.AppData)
	if err != nil {
		return nil, err
	}
	return map[string]string{"producerId": producerID}, nil
}

func (ctl *Controller) closeProducer(sess *session, data json.RawMessage) (any, error) {
	var p struct {
		CallID     string `json:"callId"`
		ProducerID string `json:"producerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ProducerID == "" {
		return nil, errBadPayload
	}
	if err := ctl.requirePeer(sess, p.CallID); err != nil {
		return nil, err
	}
	if err := ctl.Orch.CloseProducer(sess.peerID, p.ProducerID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (ctl *Controller) consume(sess *session, data json.RawMessage) (any, error) {
	var p struct {
		CallID       string             `json:"callId"`
		TransportID  string             `json:"transportId"`
		ProducerID   string             `json:"producerId"`
		Capabilities media.Capabilities `json:"capabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" || p.ProducerID == "" {
		return nil, errBadPayload
	}
	if err := ctl.requirePeer(sess, p.CallID); err != nil {
		return nil, err
	}
	return ctl.Orch.Consume(sess.peerID, p.TransportID, p.ProducerID, p.Capabilities)
}

func (ctl *Controller) resumeConsumer(sess *session, data json.RawMessage) (any, error) {
	var p struct {
		CallID     string `json:"callId"`
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConsumerID == "" {
		return nil, errBadPayload
	}
	if err := ctl.requirePeer(sess, p.CallID); err != nil {
		return nil, err
	}
	if err := ctl.Orch.ResumeConsumer(sess.peerID, p.ConsumerID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}
