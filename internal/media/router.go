package media

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/domain"
)

// Router is the per-room routing context. It owns the room's transports and
// indexes every live producer so consumers can be bridged to them.
type Router struct {
	id     string
	worker *Worker
	codecs []webrtc.RTPCodecCapability

	mu         sync.RWMutex
	closed     bool
	transports map[string]*Transport
	producers  map[string]*Producer
}

func (r *Router) ID() string { return r.id }

// Codecs returns the router's negotiated codec table.
func (r *Router) Codecs() []webrtc.RTPCodecCapability { return r.codecs }

// CreateTransport allocates a transport of the given direction on this
// router and returns connection parameters for the client handshake.
func (r *Router) CreateTransport(direction domain.Direction) (*Transport, error) {
	if !direction.Valid() {
		return nil, core.ErrWrongDirection
	}

	var t *Transport
	err := r.worker.exec(func() {
		t = &Transport{
			id:        uuid.NewString(),
			direction: direction,
			router:    r,
			ice:       newICEParameters(),
			candidates: []ICECandidate{
				newICECandidate(r.worker.cfg, r.worker.allocPort()),
			},
			dtls:      newDTLSParameters(),
			producers: make(map[string]*Producer),
			consumers: make(map[string]*Consumer),
		}
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, core.ErrRoomNotFound
	}
	r.transports[t.id] = t
	r.mu.Unlock()

	log.Debug().Str("module", "media.router").Str("router", r.id).Str("transport", t.id).Str("direction", string(direction)).Msg("transport created")
	return t, nil
}

// CanConsume reports whether the given producer's codec is expressible in
// the subscriber's declared capabilities.
func (r *Router) CanConsume(producerID string, caps Capabilities) bool {
	r.mu.RLock()
	producer, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok || producer.Closed() {
		return false
	}
	return caps.Supports(producer.params.Codec.MimeType)
}

// supportsCodec checks a produced codec against the router's own table.
func (r *Router) supportsCodec(codec webrtc.RTPCodecCapability) bool {
	for _, c := range r.codecs {
		if strings.EqualFold(c.MimeType, codec.MimeType) && c.ClockRate == codec.ClockRate {
			return true
		}
	}
	return false
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) producerByID(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

// Close tears down every transport (which cascades to their producers and
// consumers) and detaches the router from its worker. Idempotent.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.worker.removeRouter(r.id)
	log.Debug().Str("module", "media.router").Str("router", r.id).Msg("router closed")
}
