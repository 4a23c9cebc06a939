package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideastream/huddle/internal/core"
)

func TestJoinRateLimiter(t *testing.T) {
	rl := NewJoinRateLimiter(2, 50*time.Millisecond)

	assert.True(t, rl.Allow("user-a"))
	assert.True(t, rl.Allow("user-a"))
	assert.False(t, rl.Allow("user-a"))
	assert.True(t, rl.Allow("user-b"), "limits are per user")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("user-a"), "window must slide")
}

func TestJoinRateLimiterDisabled(t *testing.T) {
	rl := NewJoinRateLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("user-a"))
	}
}

func TestWsConnBackpressure(t *testing.T) {
	c := &wsConn{send: make(chan core.Frame, 1)}

	require.NoError(t, c.TrySend(core.Frame("one")))
	assert.ErrorIs(t, c.TrySend(core.Frame("two")), ErrBackpressure)

	c.closed = true
	assert.Error(t, c.TrySend(core.Frame("three")))
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{core.ErrRoomNotFound, "not_found"},
		{core.ErrPeerNotFound, "not_found"},
		{core.ErrProducerNotFound, "not_found"},
		{core.ErrWrongDirection, "invalid_state"},
		{core.ErrAlreadyConnected, "invalid_state"},
		{core.ErrPeerClosed, "invalid_state"},
		{fmt.Errorf("consume x: %w", core.ErrIncompatibleCapabilities), "incompatible_capabilities"},
		{core.ErrNotAuthorized, "not_authorized"},
		{errBadPayload, "bad_request"},
		{errNotJoined, "bad_request"},
		{errRateLimited, "rate_limited"},
		{errors.New("disk on fire"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, errorCode(tc.err), "for error %q", tc.err)
	}
}

func TestHandleRequestPing(t *testing.T) {
	ctl := &Controller{limiter: NewJoinRateLimiter(0, 0)}
	sess := &session{peerID: "peer-test", conn: &wsConn{send: make(chan core.Frame, 4)}}

	ctl.handleRequest(context.Background(), sess, []byte(`{"id":7,"type":"ping"}`))

	var resp response
	require.NoError(t, json.Unmarshal(<-sess.conn.send, &resp))
	assert.Equal(t, int64(7), resp.ID)
	assert.Equal(t, "response", resp.Type)
	assert.True(t, resp.OK)
}

func TestRespondDoesNotBlockOnFullQueue(t *testing.T) {
	ctl := &Controller{limiter: NewJoinRateLimiter(0, 0)}
	sess := &session{peerID: "peer-test", conn: &wsConn{send: make(chan core.Frame)}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctl.handleRequest(context.Background(), sess, []byte(`{"id":9,"type":"ping"}`))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("respond blocked on a full send queue")
	}
}

func TestHandleRequestUnknownType(t *testing.T) {
	ctl := &Controller{limiter: NewJoinRateLimiter(0, 0)}
	sess := &session{peerID: "peer-test", conn: &wsConn{send: make(chan core.Frame, 4)}}

	ctl.handleRequest(context.Background(), sess, []byte(`{"id":8,"type":"teleport"}`))

	var resp response
	require.NoError(t, json.Unmarshal(<-sess.conn.send, &resp))
	assert.Equal(t, int64(8), resp.ID)
	assert.False(t, resp.OK)
	assert.Equal(t, "bad_request", resp.Code)
}
