package app

import "github.com/ideastream/huddle/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropMessage
	KickPeer
)

// Policy decides what happens to a peer whose push queue rejected a
// broadcast. The room itself never blocks on slow clients; it reports them
// and lets the policy converge them toward leave.
type Policy interface {
	OnBackpressure(room *Room, peer domain.PeerID) BackpressureAction
}

// SimplePolicy kicks slow peers. A peer that cannot drain signaling pushes
// is missing producer announcements and will never render the call anyway.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(room *Room, peer domain.PeerID) BackpressureAction {
	return KickPeer
}
