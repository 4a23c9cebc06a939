package notify

import (
	"context"

	"github.com/ideastream/huddle/internal/domain"
)

// Noop discards all events. Used when no redis is configured.
type Noop struct{}

func (Noop) CallStarted(ctx context.Context, summary domain.CallSummary)        {}
func (Noop) CallEnded(ctx context.Context, callID domain.RoomID, reason string) {}
