package core

import "errors"

// Per-request errors. Every one of these surfaces as a failed response on
// the signaling channel; none of them may take the process down.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")

	ErrWrongDirection   = errors.New("wrong transport direction")
	ErrAlreadyConnected = errors.New("transport already connected")
	ErrPeerClosed       = errors.New("peer already left")
	ErrInvalidKind      = errors.New("invalid media kind")

	ErrIncompatibleCapabilities = errors.New("incompatible rtp capabilities")

	ErrNotAuthorized = errors.New("not authorized for this call")
)

// ErrWorkerDead is the one fatal condition: a media worker stopped serving
// its routers. Rooms pinned to it are unrecoverable, so the process exits
// and the supervisor restarts it.
var ErrWorkerDead = errors.New("media worker dead")

// IsNotFound reports whether err names a missing room/peer/transport/
// producer/consumer, including lookups that race a completed cleanup.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrPeerNotFound) ||
		errors.Is(err, ErrTransportNotFound) ||
		errors.Is(err, ErrProducerNotFound) ||
		errors.Is(err, ErrConsumerNotFound)
}

// IsInvalidState reports whether err is a state-machine violation, e.g.
// producing through a recv transport or touching a peer that already left.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrWrongDirection) ||
		errors.Is(err, ErrAlreadyConnected) ||
		errors.Is(err, ErrPeerClosed) ||
		errors.Is(err, ErrInvalidKind)
}
