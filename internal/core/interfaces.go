package core

import (
	"context"

	"github.com/ideastream/huddle/internal/domain"
)

// Frame is one serialized signaling message (server push or response).
type Frame []byte

// SignalConnection is the server-push handle for one connected client.
// Owned by the signaling adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking and fails when the client's
	// outbound queue is full or the connection is gone.
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []domain.PeerID
}

// Membership is the authorization gate consumed before any call state is
// created. It fronts the group-management service, which owns the actual
// "is user X in group of call Y" answer.
type Membership interface {
	Authorize(ctx context.Context, callID domain.RoomID, userID domain.UserID) error
}

// CallEvents receives call-lifecycle notifications for the chat/notification
// delivery layer. Implementations must not block the caller.
type CallEvents interface {
	CallStarted(ctx context.Context, summary domain.CallSummary)
	CallEnded(ctx context.Context, callID domain.RoomID, reason string)
}
