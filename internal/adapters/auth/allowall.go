// Package auth implements the membership gate consumed before any call
// state is created. The real answer lives in the chat backend; this
// package only fronts it.
package auth

import (
	"context"

	"github.com/ideastream/huddle/internal/domain"
)

// AllowAll admits everyone. Dev/test only; never wire it in production.
type AllowAll struct{}

func (AllowAll) Authorize(ctx context.Context, callID domain.RoomID, userID domain.UserID) error {
	return nil
}
