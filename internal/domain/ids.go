package domain

// RoomID equals the call id issued by the call-management service.
type RoomID string

// PeerID identifies one participant's session. It is minted per signaling
// connection and is not the durable user identity.
type PeerID string

// UserID is the external identity from the account system.
type UserID string
