// Package signal is the websocket gateway: one connection per client, a
// request/response envelope with correlation ids, and unsolicited server
// pushes for room events.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/app/orch"
	"github.com/ideastream/huddle/internal/config"
	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch    *orch.Orchestrator
	Cfg     *config.Config
	limiter *JoinRateLimiter
}

func NewController(o *orch.Orchestrator, cfg *config.Config) *Controller {
	return &Controller{
		Orch:    o,
		Cfg:     cfg,
		limiter: NewJoinRateLimiter(cfg.JoinLimit, cfg.JoinWindow),
	}
}

// wsConn wraps one websocket with a bounded outbound queue. TrySend never
// blocks; a full queue is the backpressure signal the policy layer acts on.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// session is the per-connection state. The peer id is minted at upgrade
// time and lives exactly as long as the socket.
type session struct {
	peerID domain.PeerID
	conn   *wsConn

	mu     sync.Mutex
	userID domain.UserID
}

func (s *session) setUser(id domain.UserID) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

func (s *session) user() domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the connection and serves it until disconnect.
// Disconnect funnels into the same leave path as an explicit leaveRoom.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sess := &session{
		peerID: domain.PeerID(uuid.NewString()),
		conn: &wsConn{
			conn: ws,
			send: make(chan core.Frame, 64),
		},
	}
	log.Info().Str("module", "signal").Str("peer", string(sess.peerID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, sess.conn)

	ctl.readPump(ctx, sess)

	// Connection gone: tear down whatever the peer still owns.
	cancel()
	ctl.Orch.Leave(sess.peerID)
	sess.conn.Close()
}
