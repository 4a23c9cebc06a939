package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/core"
)

// request is the client-initiated envelope. Every request gets exactly one
// response carrying the same correlation id.
type request struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type response struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sess *session) {
	defer log.Info().Str("module", "signal").Str("peer", string(sess.peerID)).Msg("readPump closing")

	c := sess.conn
	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)

	// Liveness comes from the websocket layer: a dead TCP path misses
	// pongs and surfaces as a read error, which ends the pump and runs the
	// disconnect leave.
	pongWait := ctl.Cfg.PingPeriod + 10*time.Second
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("peer", string(sess.peerID)).Msg("readPump read error")
				return
			}
			ctl.handleRequest(ctx, sess, data)
		}
	}
}

func (ctl *Controller) handleRequest(ctx context.Context, sess *session, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	var (
		result any
		err    error
	)
	switch req.Type {
	case "createRoom":
		result, err = ctl.createRoom(ctx, sess, req.Data)
	case "joinRoom":
		result, err = ctl.joinRoom(ctx, sess, req.Data)
	case "leaveRoom":
		result, err = ctl.leaveRoom(sess, req.Data)
	case "getProducers":
		result, err = ctl.getProducers(sess, req.Data)
	case "createTransport":
		result, err = ctl.createTransport(sess, req.Data)
	case "connectTransport":
		result, err = ctl.connectTransport(sess, req.Data)
	case "produce":
		result, err = ctl.produce(sess, req.Data)
	case "closeProducer":
		result, err = ctl.closeProducer(sess, req.Data)
	case "consume":
		result, err = ctl.consume(sess, req.Data)
	case "resumeConsumer":
		result, err = ctl.resumeConsumer(sess, req.Data)
	case "ping":
		result = map[string]string{"pong": "pong"}
	default:
		log.Warn().Str("module", "signal").Str("type", req.Type).Msg("unknown request")
		err = errBadPayload
	}

	ctl.respond(sess.conn, req.ID, result, err)
}

func (ctl *Controller) respond(c *wsConn, id int64, result any, err error) {
	resp := response{ID: id, Type: "response", OK: err == nil, Data: result}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = errorCode(err)
	}
	b, merr := json.Marshal(resp)
	if merr != nil {
		log.Error().Err(merr).Str("module", "signal").Msg("marshal response")
		return
	}
	if err := c.TrySend(core.Frame(b)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Int64("id", id).Msg("response dropped")
	}
}

// errorCode maps the core taxonomy onto stable wire codes the client can
// branch on.
func errorCode(err error) string {
	switch {
	case core.IsNotFound(err):
		return "not_found"
	case core.IsInvalidState(err):
		return "invalid_state"
	case errors.Is(err, core.ErrIncompatibleCapabilities):
		return "incompatible_capabilities"
	case errors.Is(err, core.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, errBadPayload), errors.Is(err, errNotJoined):
		return "bad_request"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
