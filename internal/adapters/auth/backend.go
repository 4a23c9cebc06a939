package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/carlmjohnson/requests"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
)

// Backend asks the chat backend whether a user may join a call. Positive
// answers are cached briefly; a revoked membership takes at most the cache
// TTL to bite, which is acceptable for an in-progress call.
type Backend struct {
	baseURL string
	token   string
	cache   *gocache.Cache
}

func NewBackend(baseURL, internalToken string) *Backend {
	return &Backend{
		baseURL: baseURL,
		token:   internalToken,
		cache:   gocache.New(30*time.Second, time.Minute),
	}
}

type membershipResponse struct {
	Allowed bool `json:"allowed"`
}

func (b *Backend) Authorize(ctx context.Context, callID domain.RoomID, userID domain.UserID) error {
	key := fmt.Sprintf("%s/%s", callID, userID)
	if _, ok := b.cache.Get(key); ok {
		return nil
	}

	var resp membershipResponse
	err := requests.
		URL(b.baseURL).
		Pathf("/internal/calls/%s/members/%s", string(callID), string(userID)).
		Header("X-Internal-Token", b.token).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "auth.backend").Str("call", string(callID)).Str("user", string(userID)).Msg("membership check failed")
		// The backend being down must not admit anyone.
		return fmt.Errorf("membership check: %w", core.ErrNotAuthorized)
	}
	if !resp.Allowed {
		return core.ErrNotAuthorized
	}

	b.cache.SetDefault(key, struct{}{})
	return nil
}
