package domain

// PeerInfo is the wire-facing view of a participant.
type PeerInfo struct {
	PeerID      PeerID `json:"peerId"`
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// ProducerInfo describes one published track, enough for a remote peer to
// decide to subscribe.
type ProducerInfo struct {
	ProducerID string    `json:"producerId"`
	PeerID     PeerID    `json:"peerId"`
	UserID     UserID    `json:"userId"`
	Kind       MediaKind `json:"kind"`
}
